// Package receiver handles settlement messages on the destination network.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/message"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

var (
	ErrUntrustedTransport = errors.New("message not delivered by the trusted transport")
	ErrUnexpectedOrigin   = errors.New("message from unexpected origin")
	ErrAmountMismatch     = errors.New("bridged amount does not match payload")
)

// Action is the destination-side effect of a settlement
type Action interface {
	Apply(ctx context.Context, s message.Settlement, d transport.Delivery) error
}

// NoopAction does nothing
type NoopAction struct{}

// Apply implements Action
func (NoopAction) Apply(context.Context, message.Settlement, transport.Delivery) error { return nil }

// Minter credits bridged tokens
type Minter interface {
	Mint(token, account common.Address, amount *big.Int) error
}

// MintAction credits the recipient with the bridged token on the destination ledger
type MintAction struct {
	Ledger Minter
	// Token replaces the bridged token when set
	Token common.Address
}

// Apply implements Action
func (a MintAction) Apply(_ context.Context, s message.Settlement, d transport.Delivery) error {
	if s.Amount.Sign() == 0 {
		return nil
	}
	token := a.Token
	if token == (common.Address{}) {
		token = d.Token
	}
	if err := a.Ledger.Mint(token, s.Recipient, s.Amount); err != nil {
		return fmt.Errorf("failed to credit %s: %w", s.Recipient.Hex(), err)
	}
	return nil
}

// Sink receives SettlementReceived events
type Sink interface {
	Emit(event models.Event)
}

// Config names the counterparties a receiver trusts
type Config struct {
	// Transport is the only caller allowed to deliver
	Transport common.Address
	// OriginNetwork and Origin identify the source engine
	OriginNetwork uint64
	Origin        common.Address
}

// Receiver records settlement completions. Each message id is applied once.
type Receiver struct {
	cfg    Config
	action Action
	sink   Sink
	logger logger.Logger
	clock  func() time.Time

	mu          sync.Mutex
	completions map[common.Hash]models.Completion
	byIntent    map[common.Hash][]common.Hash
}

// Option customises a receiver
type Option func(*Receiver)

// WithAction sets the destination action. The default is NoopAction.
func WithAction(a Action) Option {
	return func(r *Receiver) { r.action = a }
}

// WithSink sets the event sink
func WithSink(s Sink) Option {
	return func(r *Receiver) { r.sink = s }
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(r *Receiver) { r.clock = clock }
}

// New creates a receiver
func New(cfg Config, log logger.Logger, opts ...Option) *Receiver {
	r := &Receiver{
		cfg:         cfg,
		action:      NoopAction{},
		logger:      log,
		clock:       time.Now,
		completions: make(map[common.Hash]models.Completion),
		byIntent:    make(map[common.Hash][]common.Hash),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ transport.Handler = (*Receiver)(nil)

// OnMessage implements transport.Handler
func (r *Receiver) OnMessage(ctx context.Context, caller common.Address, d transport.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome, err := r.onMessage(ctx, caller, d)
	metrics.CompletionsReceived.WithLabelValues(strconv.FormatUint(d.OriginNetwork, 10), outcome).Inc()
	if err != nil {
		r.logger.ErrorWithNetwork(d.OriginNetwork, "Rejected message %s: %v", d.MessageID.Hex(), err)
	}
	return err
}

func (r *Receiver) onMessage(ctx context.Context, caller common.Address, d transport.Delivery) (string, error) {
	if caller != r.cfg.Transport {
		return "untrusted", fmt.Errorf("%w: caller %s", ErrUntrustedTransport, caller.Hex())
	}
	if d.OriginNetwork != r.cfg.OriginNetwork || d.Sender != r.cfg.Origin {
		return "unexpected_origin", fmt.Errorf("%w: %s on network %d", ErrUnexpectedOrigin, d.Sender.Hex(), d.OriginNetwork)
	}

	if _, done := r.completions[d.MessageID]; done {
		r.logger.DebugWithNetwork(d.OriginNetwork, "Message %s already completed", d.MessageID.Hex())
		return "duplicate", nil
	}

	s, err := message.Decode(d.Payload)
	if err != nil {
		return "malformed", err
	}
	if d.Amount != nil && d.Amount.Cmp(s.Amount) != 0 {
		return "malformed", fmt.Errorf("%w: bridged %s, payload %s", ErrAmountMismatch, d.Amount, s.Amount)
	}

	if err := r.action.Apply(ctx, s, d); err != nil {
		return "action_failed", err
	}

	c := models.Completion{
		IntentID:      s.IntentID,
		MessageID:     d.MessageID,
		OriginNetwork: d.OriginNetwork,
		Amount:        new(big.Int).Set(s.Amount),
		Recipient:     s.Recipient,
		ReceivedAt:    r.clock(),
	}
	r.completions[d.MessageID] = c
	r.byIntent[s.IntentID] = append(r.byIntent[s.IntentID], d.MessageID)

	if r.sink != nil {
		r.sink.Emit(models.Event{
			Type:      models.EventSettlementReceived,
			IntentID:  s.IntentID,
			Amount:    new(big.Int).Set(s.Amount),
			MessageID: d.MessageID,
			Time:      c.ReceivedAt,
		})
	}
	r.logger.InfoWithNetwork(d.OriginNetwork, "Settled %s of intent %s to %s (message %s)",
		s.Amount, s.IntentID.Hex(), s.Recipient.Hex(), d.MessageID.Hex())
	return "ok", nil
}

// Completion returns the completion recorded for messageID
func (r *Receiver) Completion(messageID common.Hash) (models.Completion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.completions[messageID]
	if !ok {
		return models.Completion{}, false
	}
	c.Amount = new(big.Int).Set(c.Amount)
	return c, true
}

// Completions returns the completions of an intent in arrival order
func (r *Receiver) Completions(intentID common.Hash) []models.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byIntent[intentID]
	out := make([]models.Completion, 0, len(ids))
	for _, id := range ids {
		c := r.completions[id]
		c.Amount = new(big.Int).Set(c.Amount)
		out = append(out, c)
	}
	return out
}

// Count returns the number of completed messages
func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}
