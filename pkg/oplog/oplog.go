// Package oplog is the engine's append-only operation log. Every accepted
// state change is appended before it is acknowledged so an engine can be
// rebuilt after a restart.
package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// ErrClosed is returned by operations on a closed log
var ErrClosed = errors.New("oplog closed")

// Kind names an entry type
type Kind string

const (
	KindIntentRegistered    Kind = "intent_registered"
	KindBidSubmitted        Kind = "bid_submitted"
	KindBidSelected         Kind = "bid_selected"
	KindFillDispatching     Kind = "fill_dispatching"
	KindFillCommitted       Kind = "fill_committed"
	KindFillAborted         Kind = "fill_aborted"
	KindOracleConfigChanged Kind = "oracle_config_changed"
)

// Entry is one persisted operation. Seq is assigned by the log.
type Entry struct {
	Seq        uint64          `json:"seq"`
	Kind       Kind            `json:"kind"`
	IntentID   common.Hash     `json:"intent_id"`
	Data       json.RawMessage `json:"data"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewEntry encodes payload into an entry
func NewEntry(kind Kind, intentID common.Hash, payload interface{}, at time.Time) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode %s entry: %v", kind, err)
	}
	return Entry{Kind: kind, IntentID: intentID, Data: data, RecordedAt: at}, nil
}

// Decode unmarshals the entry payload into v
func (e Entry) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s entry %d: %v", e.Kind, e.Seq, err)
	}
	return nil
}

// Log is an append-only sequence of entries
type Log interface {
	// Append persists e and returns its sequence number
	Append(ctx context.Context, e Entry) (uint64, error)
	// Entries returns every entry with Seq greater than after, in order
	Entries(ctx context.Context, after uint64) ([]Entry, error)
	Close() error
}

// IntentRegistered is the payload of KindIntentRegistered
type IntentRegistered struct {
	Params          models.IntentParams `json:"params"`
	CreatedAt       time.Time           `json:"created_at"`
	AuctionClosesAt time.Time           `json:"auction_closes_at"`
}

// BidSubmitted is the payload of KindBidSubmitted
type BidSubmitted struct {
	Bid models.Bid `json:"bid"`
}

// BidSelected is the payload of KindBidSelected
type BidSelected struct {
	Solver common.Address `json:"solver"`
	Cost   *big.Int       `json:"cost"`
	DstGas uint64         `json:"dst_gas"`
}

// Fill is the payload of the three fill kinds. MessageID is only set on commit,
// Reason only on abort.
type Fill struct {
	Solver    common.Address `json:"solver"`
	Amount    *big.Int       `json:"amount"`
	Fee       *big.Int       `json:"fee"`
	MessageID common.Hash    `json:"message_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// OracleConfigChanged is the payload of KindOracleConfigChanged
type OracleConfigChanged struct {
	Config models.OracleConfig `json:"config"`
}

// MemoryLog keeps entries in process memory
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

var _ Log = (*MemoryLog)(nil)

// Append implements Log
func (m *MemoryLog) Append(ctx context.Context, e Entry) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	e.Seq = uint64(len(m.entries)) + 1
	e.Data = append(json.RawMessage(nil), e.Data...)
	m.entries = append(m.entries, e)
	return e.Seq, nil
}

// Entries implements Log
func (m *MemoryLog) Entries(ctx context.Context, after uint64) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if after >= uint64(len(m.entries)) {
		return nil, nil
	}
	out := make([]Entry, 0, uint64(len(m.entries))-after)
	for _, e := range m.entries[after:] {
		e.Data = append(json.RawMessage(nil), e.Data...)
		out = append(out, e)
	}
	return out, nil
}

// Close implements Log
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
