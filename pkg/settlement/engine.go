// Package settlement is the cross-chain settlement engine: intent
// registration, the execution-cost auction, risk-gated fills and the
// administrative oracle configuration.
//
// Every public operation runs as one serialized unit under the engine lock.
// The only exception is the transport dispatch inside a fill, which runs with
// the lock released while the intent is marked in flight; any other fill for
// that intent is rejected until the first one finishes.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signing"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

// Custody moves tokens between accounts with allowance semantics
type Custody interface {
	BalanceOf(token, account common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error
	IncreaseAllowance(token, owner, spender common.Address, amount *big.Int) error
}

// Config is the static identity of an engine instance
type Config struct {
	// NetworkID is the source network every registered intent must name
	NetworkID uint64
	// Address identifies this instance in signatures and holds custody
	Address common.Address
	// Owner may change the oracle configuration
	Owner common.Address
	// FeeToken is the asset delivery fees are paid in
	FeeToken common.Address
	// DefaultDestinationGas is used when the selected solver committed no budget
	DefaultDestinationGas uint64
	// Oracle is the initial oracle policy
	Oracle models.OracleConfig
}

type nonceKey struct {
	maker common.Address
	nonce string
}

type intentEntry struct {
	record  *models.IntentRecord
	bids    []models.Bid
	bidders map[common.Address]struct{}
	// inFlight is set while a fill is dispatching
	inFlight bool
	// inDoubt is a fill recovered from the log without an outcome
	inDoubt *InDoubtFill
}

// Engine is the settlement engine. Construct with New or Restore.
type Engine struct {
	cfg       Config
	domain    signing.Domain
	custody   Custody
	transport transport.Transport
	journal   oplog.Log
	events    EventSink
	logger    logger.Logger
	clock     func() time.Time

	mu           sync.Mutex
	intents      map[common.Hash]*intentEntry
	order        []common.Hash
	nonces       map[nonceKey]struct{}
	feed         oracle.Feed
	oracleCfg    models.OracleConfig
	reservedFees *big.Int
}

// Option customises an engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithJournal sets the operation log accepted mutations are appended to
func WithJournal(j oplog.Log) Option {
	return func(e *Engine) { e.journal = j }
}

// WithEvents sets the event sink
func WithEvents(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithFeed sets the initial price feed
func WithFeed(feed oracle.Feed) Option {
	return func(e *Engine) { e.feed = feed }
}

// New creates an engine with no registered intents
func New(cfg Config, custody Custody, tr transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		domain:       signing.NewDomain(cfg.NetworkID, cfg.Address),
		custody:      custody,
		transport:    tr,
		journal:      oplog.NewMemoryLog(),
		events:       discardSink{},
		logger:       &logger.EmptyLogger{},
		clock:        time.Now,
		intents:      make(map[common.Hash]*intentEntry),
		nonces:       make(map[nonceKey]struct{}),
		oracleCfg:    cfg.Oracle,
		reservedFees: new(big.Int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.feed != nil {
		e.oracleCfg.FeedID = e.feed.ID()
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// Domain returns the signing domain makers must sign intents under
func (e *Engine) Domain() signing.Domain {
	return e.domain
}

// Address returns the engine's custody and signing identity
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// NetworkID returns the source network this engine serves
func (e *Engine) NetworkID() uint64 {
	return e.cfg.NetworkID
}

// Intent returns a copy of the record for id
func (e *Engine) Intent(id common.Hash) (*models.IntentRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return entry.record.Clone(), nil
}

// Bids returns the bids on id in submission order
func (e *Engine) Bids(id common.Hash) ([]models.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]models.Bid, 0, len(entry.bids))
	for _, b := range entry.bids {
		out = append(out, b.Clone())
	}
	return out, nil
}

// Intents returns every record in registration order
func (e *Engine) Intents() []*models.IntentRecord {
	return e.filter(func(*models.IntentRecord) bool { return true })
}

// OpenIntents returns the records still accepting bids or awaiting selection
func (e *Engine) OpenIntents() []*models.IntentRecord {
	return e.filter(func(r *models.IntentRecord) bool { return r.State == models.StateOpen })
}

// IntentsInState returns the records currently in state
func (e *Engine) IntentsInState(state models.State) []*models.IntentRecord {
	return e.filter(func(r *models.IntentRecord) bool { return r.State == state })
}

func (e *Engine) filter(keep func(*models.IntentRecord) bool) []*models.IntentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.IntentRecord
	for _, id := range e.order {
		rec := e.intents[id].record
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Remaining returns totalAmount - filledAmount, clamped at zero
func (e *Engine) Remaining(id common.Hash) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return entry.record.Remaining(), nil
}

// Stats counts intents per state
func (e *Engine) Stats() map[models.State]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() map[models.State]int {
	stats := map[models.State]int{
		models.StateOpen:     0,
		models.StateSelected: 0,
		models.StateExecuted: 0,
	}
	for _, entry := range e.intents {
		stats[entry.record.State]++
	}
	return stats
}

// InDoubtFills returns fills that still await resolution, oldest first
func (e *Engine) InDoubtFills() []InDoubtFill {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []InDoubtFill
	for _, entry := range e.intents {
		if entry.inDoubt != nil {
			out = append(out, entry.inDoubt.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (e *Engine) lookup(id common.Hash) (*intentEntry, error) {
	entry, ok := e.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id.Hex())
	}
	return entry, nil
}

// record appends an operation log entry. Callers hold e.mu.
func (e *Engine) record(ctx context.Context, kind oplog.Kind, id common.Hash, payload interface{}) error {
	_, err := e.recordSeq(ctx, kind, id, payload)
	return err
}

// recordSeq is record that also returns the entry's sequence number
func (e *Engine) recordSeq(ctx context.Context, kind oplog.Kind, id common.Hash, payload interface{}) (uint64, error) {
	entry, err := oplog.NewEntry(kind, id, payload, e.now())
	if err != nil {
		return 0, err
	}
	seq, err := e.journal.Append(ctx, entry)
	if err != nil {
		metrics.JournalFailures.WithLabelValues(string(kind)).Inc()
		return 0, fmt.Errorf("failed to journal %s: %w", kind, err)
	}
	return seq, nil
}

func (e *Engine) emit(t models.EventType, id common.Hash, fill func(*models.Event)) {
	ev := models.Event{Type: t, IntentID: id, Time: e.now()}
	if fill != nil {
		fill(&ev)
	}
	e.events.Emit(ev)
}

func (e *Engine) updateStateGauge() {
	for state, n := range e.statsLocked() {
		metrics.IntentsByState.WithLabelValues(state.String()).Set(float64(n))
	}
}
