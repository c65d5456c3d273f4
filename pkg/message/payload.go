// Package message encodes the settlement payload carried by the cross-chain transport.
package message

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedPayload is returned when a payload does not decode to a settlement
var ErrMalformedPayload = errors.New("malformed settlement payload")

// Settlement is the destination-side instruction: deliver Amount of an intent to Recipient
type Settlement struct {
	IntentID  common.Hash
	Amount    *big.Int
	Recipient common.Address
}

var payloadArgs = abi.Arguments{
	{Name: "intentId", Type: mustType("bytes32")},
	{Name: "amount", Type: mustType("uint256")},
	{Name: "recipient", Type: mustType("address")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %v", t, err))
	}
	return typ
}

// Encode ABI-encodes (bytes32 intentId, uint256 amount, address recipient)
func Encode(s Settlement) ([]byte, error) {
	if s.Amount == nil || s.Amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid settlement amount: %v", s.Amount)
	}
	data, err := payloadArgs.Pack([32]byte(s.IntentID), s.Amount, s.Recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to pack settlement: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode
func Decode(data []byte) (Settlement, error) {
	values, err := payloadArgs.Unpack(data)
	if err != nil {
		return Settlement{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(values) != len(payloadArgs) {
		return Settlement{}, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedPayload, len(payloadArgs), len(values))
	}

	intentID, ok := values[0].([32]byte)
	if !ok {
		return Settlement{}, fmt.Errorf("%w: intent id has type %T", ErrMalformedPayload, values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return Settlement{}, fmt.Errorf("%w: amount has type %T", ErrMalformedPayload, values[1])
	}
	recipient, ok := values[2].(common.Address)
	if !ok {
		return Settlement{}, fmt.Errorf("%w: recipient has type %T", ErrMalformedPayload, values[2])
	}

	return Settlement{
		IntentID:  common.Hash(intentID),
		Amount:    amount,
		Recipient: recipient,
	}, nil
}
