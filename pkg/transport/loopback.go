package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

// LoopbackConfig configures an in-process transport
type LoopbackConfig struct {
	Address       common.Address
	OriginNetwork uint64
	BaseFee       *big.Int
	FeePerGas     *big.Int
}

type pending struct {
	destination uint64
	delivery    Delivery
}

// Loopback is an in-process Transport. Sent messages are queued and handed to
// the registered destination handler on Relay.
type Loopback struct {
	cfg    LoopbackConfig
	logger logger.Logger

	mu       sync.Mutex
	routes   map[uint64]Handler
	queue    []pending
	sequence uint64
	sendErr  error
}

// NewLoopback creates a loopback transport
func NewLoopback(cfg LoopbackConfig, log logger.Logger) *Loopback {
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(big.Int)
	}
	if cfg.FeePerGas == nil {
		cfg.FeePerGas = new(big.Int)
	}
	return &Loopback{
		cfg:    cfg,
		logger: log,
		routes: make(map[uint64]Handler),
	}
}

var _ Transport = (*Loopback)(nil)

// Address implements Transport
func (l *Loopback) Address() common.Address {
	return l.cfg.Address
}

// Register routes messages for network to handler
func (l *Loopback) Register(network uint64, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[network] = handler
}

// FailSends makes every Send return err until cleared with nil
func (l *Loopback) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// QuoteFee implements Transport. fee = base + perGas * gasLimit
func (l *Loopback) QuoteFee(ctx context.Context, destination uint64, msg Message) (*big.Int, error) {
	l.mu.Lock()
	_, ok := l.routes[destination]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDestination, destination)
	}
	return l.quote(msg.GasLimit), nil
}

func (l *Loopback) quote(gasLimit uint64) *big.Int {
	fee := new(big.Int).SetUint64(gasLimit)
	fee.Mul(fee, l.cfg.FeePerGas)
	return fee.Add(fee, l.cfg.BaseFee)
}

// Send implements Transport
func (l *Loopback) Send(ctx context.Context, destination uint64, msg Message, transfer TokenTransfer, fee *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sendErr != nil {
		return common.Hash{}, l.sendErr
	}
	if _, ok := l.routes[destination]; !ok {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrUnknownDestination, destination)
	}
	required := l.quote(msg.GasLimit)
	if fee == nil || fee.Cmp(required) < 0 {
		return common.Hash{}, fmt.Errorf("%w: need %s", ErrInsufficientFee, required)
	}

	l.sequence++
	id := messageID(l.cfg.OriginNetwork, destination, l.sequence, msg.Payload)

	amount := new(big.Int)
	if transfer.Amount != nil {
		amount.Set(transfer.Amount)
	}
	l.queue = append(l.queue, pending{
		destination: destination,
		delivery: Delivery{
			MessageID:     id,
			OriginNetwork: l.cfg.OriginNetwork,
			Sender:        msg.Sender,
			Payload:       append([]byte(nil), msg.Payload...),
			Token:         transfer.Token,
			Amount:        amount,
		},
	})
	l.logger.DebugWithNetwork(destination, "Queued message %s (%d bytes)", id.Hex(), len(msg.Payload))
	return id, nil
}

// Pending returns the number of undelivered messages
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Relay hands every queued message to its destination handler in send order.
// A message whose handler fails stays queued and relaying stops there.
func (l *Loopback) Relay(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return delivered, nil
		}
		next := l.queue[0]
		handler := l.routes[next.destination]
		l.mu.Unlock()

		if err := handler.OnMessage(ctx, l.cfg.Address, next.delivery); err != nil {
			l.logger.ErrorWithNetwork(next.destination, "Delivery of %s failed: %v", next.delivery.MessageID.Hex(), err)
			return delivered, fmt.Errorf("delivery of %s failed: %w", next.delivery.MessageID.Hex(), err)
		}

		l.mu.Lock()
		l.queue = l.queue[1:]
		l.mu.Unlock()
		delivered++
	}
}

// Redeliver hands an already relayed delivery to the destination handler again
func (l *Loopback) Redeliver(ctx context.Context, destination uint64, delivery Delivery) error {
	l.mu.Lock()
	handler, ok := l.routes[destination]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDestination, destination)
	}
	return handler.OnMessage(ctx, l.cfg.Address, delivery)
}

func messageID(origin, destination, sequence uint64, payload []byte) common.Hash {
	var header [24]byte
	binary.BigEndian.PutUint64(header[0:8], origin)
	binary.BigEndian.PutUint64(header[8:16], destination)
	binary.BigEndian.PutUint64(header[16:24], sequence)
	return crypto.Keccak256Hash(header[:], payload)
}
