package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bid is a solver's offer to execute an intent. One per (intent, solver).
type Bid struct {
	IntentID      common.Hash    `json:"intent_id"`
	Solver        common.Address `json:"solver"`
	ExecutionCost *big.Int       `json:"execution_cost"`
	DstGasBudget  uint64         `json:"dst_gas_budget"`
	SubmittedAt   time.Time      `json:"submitted_at"`
}

// Clone returns a deep copy of the bid
func (b Bid) Clone() Bid {
	b.ExecutionCost = copyBig(b.ExecutionCost)
	return b
}

// OracleConfig holds the process-wide risk defaults
type OracleConfig struct {
	FeedID              string `json:"feed_id"`
	DefaultDeviationBps uint32 `json:"default_deviation_bps"`
	MaxStalenessSeconds uint64 `json:"max_staleness_seconds"`
}

// Completion is the destination-side record of a delivered settlement
type Completion struct {
	IntentID      common.Hash    `json:"intent_id"`
	MessageID     common.Hash    `json:"message_id"`
	OriginNetwork uint64         `json:"origin_network"`
	Amount        *big.Int       `json:"amount"`
	Recipient     common.Address `json:"recipient"`
	ReceivedAt    time.Time      `json:"received_at"`
}

// EventType names an engine notification
type EventType string

const (
	EventIntentCreated       EventType = "IntentCreated"
	EventAuctionOpened       EventType = "AuctionOpened"
	EventBidSubmitted        EventType = "BidSubmitted"
	EventBidSelected         EventType = "BidSelected"
	EventIntentFilled        EventType = "IntentFilled"
	EventIntentExecuted      EventType = "IntentExecuted"
	EventOracleConfigChanged EventType = "OracleConfigChanged"
	EventSettlementReceived  EventType = "SettlementReceived"
)

// Event is a notification emitted after a state change has been applied
type Event struct {
	Type      EventType      `json:"type"`
	IntentID  common.Hash    `json:"intent_id,omitempty"`
	Solver    common.Address `json:"solver,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	MessageID common.Hash    `json:"message_id,omitempty"`
	Time      time.Time      `json:"time"`
}
