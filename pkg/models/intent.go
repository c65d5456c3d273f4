package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionWindow is the fixed bidding period that follows registration
const AuctionWindow = 60 * time.Second

// State is the lifecycle state of an intent
type State uint8

const (
	StateUnknown State = iota
	StateOpen
	StateSelected
	StateExecuted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateSelected:
		return "SELECTED"
	case StateExecuted:
		return "EXECUTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// MarshalText renders the state name in JSON documents
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "OPEN":
		*s = StateOpen
	case "SELECTED":
		*s = StateSelected
	case "EXECUTED":
		*s = StateExecuted
	default:
		return fmt.Errorf("unknown intent state: %s", string(text))
	}
	return nil
}

// IntentParams is the maker-signed part of an intent. It never changes after signing.
type IntentParams struct {
	Maker              common.Address `json:"maker"`
	SourceNetwork      uint64         `json:"source_network"`
	DestinationNetwork uint64         `json:"destination_network"`
	SourceToken        common.Address `json:"source_token"`
	Recipient          common.Address `json:"recipient"`
	TotalAmount        *big.Int       `json:"total_amount"`
	Nonce              *big.Int       `json:"nonce"`
	// ReferencePrice is a signed fixed-point price with 8 decimals
	ReferencePrice *big.Int `json:"reference_price"`
	// MaxDeviationBps of 0 selects the process-wide default
	MaxDeviationBps uint32 `json:"max_deviation_bps"`
	// Deadline is an absolute unix timestamp in seconds
	Deadline uint64 `json:"deadline"`
}

// IntentRecord is the engine's canonical record of a registered intent
type IntentRecord struct {
	ID              common.Hash    `json:"id"`
	Params          IntentParams   `json:"params"`
	State           State          `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	AuctionOpenedAt time.Time      `json:"auction_opened_at"`
	AuctionClosesAt time.Time      `json:"auction_closes_at"`
	FilledAmount    *big.Int       `json:"filled_amount"`
	BestBid         *Bid           `json:"best_bid,omitempty"`
	SelectedSolver  common.Address `json:"selected_solver"`
	SelectedCost    *big.Int       `json:"selected_cost,omitempty"`
	SelectedDstGas  uint64         `json:"selected_dst_gas"`
}

// Remaining returns TotalAmount - FilledAmount, clamped at zero
func (r *IntentRecord) Remaining() *big.Int {
	remaining := new(big.Int).Sub(r.Params.TotalAmount, r.FilledAmount)
	if remaining.Sign() < 0 {
		return new(big.Int)
	}
	return remaining
}

// Clone returns a deep copy so callers cannot mutate engine state
func (r *IntentRecord) Clone() *IntentRecord {
	c := *r
	c.Params = r.Params.Clone()
	c.FilledAmount = copyBig(r.FilledAmount)
	c.SelectedCost = copyBig(r.SelectedCost)
	if r.BestBid != nil {
		bid := r.BestBid.Clone()
		c.BestBid = &bid
	}
	return &c
}

// Clone returns a deep copy of the params
func (p IntentParams) Clone() IntentParams {
	p.TotalAmount = copyBig(p.TotalAmount)
	p.Nonce = copyBig(p.Nonce)
	p.ReferencePrice = copyBig(p.ReferencePrice)
	return p
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
