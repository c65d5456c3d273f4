// Package transport defines the cross-chain messaging surface the engine
// dispatches through and the destination receivers are invoked by.
package transport

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownDestination = errors.New("unknown destination network")
	ErrInsufficientFee    = errors.New("fee below quoted amount")
)

// Message is an outbound cross-chain message
type Message struct {
	Sender   common.Address
	Payload  []byte
	GasLimit uint64
}

// TokenTransfer is the asset bridged alongside a message
type TokenTransfer struct {
	Token  common.Address
	Amount *big.Int
}

// Delivery is a message as seen by the destination
type Delivery struct {
	MessageID     common.Hash
	OriginNetwork uint64
	Sender        common.Address
	Payload       []byte
	Token         common.Address
	Amount        *big.Int
}

// Transport sends messages to other networks
type Transport interface {
	// Address is the account that receives bridged tokens and fees
	Address() common.Address
	// QuoteFee returns the native fee required to deliver msg to destination
	QuoteFee(ctx context.Context, destination uint64, msg Message) (*big.Int, error)
	// Send dispatches msg with the attached token transfer. fee must cover the quote.
	Send(ctx context.Context, destination uint64, msg Message, transfer TokenTransfer, fee *big.Int) (common.Hash, error)
}

// Handler consumes deliveries on the destination network. caller is the
// account that invoked the handler.
type Handler interface {
	OnMessage(ctx context.Context, caller common.Address, delivery Delivery) error
}
