// Package solver is a minimal solver agent: it bids on open auctions, closes
// them once their window has passed and executes the fills it won.
package solver

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
)

// Actions a solver takes on an intent
const (
	ActionBid    = "bid"
	ActionSelect = "select"
	ActionFill   = "fill"
)

// Engine is the part of the settlement engine a solver drives
type Engine interface {
	OpenIntents() []*models.IntentRecord
	IntentsInState(state models.State) []*models.IntentRecord
	QuoteFee(ctx context.Context, id common.Hash, amount *big.Int) (*big.Int, error)
	SubmitBid(ctx context.Context, solver common.Address, id common.Hash, executionCost *big.Int, dstGasBudget uint64) error
	SelectBid(ctx context.Context, id common.Hash) (models.Bid, error)
	ExecuteFull(ctx context.Context, solver common.Address, id common.Hash) (*settlement.FillReceipt, error)
	ExecutePartial(ctx context.Context, solver common.Address, id common.Hash, amount *big.Int) (*settlement.FillReceipt, error)
}

// Config holds the solver parameters
type Config struct {
	Address common.Address
	// Margin is added to the quoted delivery fees when bidding
	Margin *big.Int
	// MaxFill caps a single fill; zero fills the remainder at once
	MaxFill *big.Int
	// DstGasBudget is committed with every bid; zero lets the engine pick its default
	DstGasBudget    uint64
	PollingInterval time.Duration
	MaxRetries      int
	CircuitBreaker  circuitbreaker.Config
}

type jobKey struct {
	id     common.Hash
	action string
}

// Status is a snapshot of the solver's bookkeeping
type Status struct {
	Address    common.Address         `json:"address"`
	RetryQueue int                    `json:"retry_queue"`
	GivenUp    int                    `json:"given_up"`
	Breakers   []circuitbreaker.State `json:"circuit_breakers"`
}

// Solver runs the bid, select and fill loop against an engine
type Solver struct {
	cfg    Config
	engine Engine
	logger logger.Logger
	clock  func() time.Time

	mu       sync.Mutex
	bids     map[common.Hash]struct{}
	retries  map[jobKey]models.RetryJob
	givenUp  map[jobKey]string
	breakers map[uint64]*circuitbreaker.CircuitBreaker
}

// Option customises a solver
type Option func(*Solver)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *Solver) { s.clock = clock }
}

// New creates a solver
func New(cfg Config, engine Engine, log logger.Logger, opts ...Option) *Solver {
	if cfg.Margin == nil {
		cfg.Margin = new(big.Int)
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	s := &Solver{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		clock:    time.Now,
		bids:     make(map[common.Hash]struct{}),
		retries:  make(map[jobKey]models.RetryJob),
		givenUp:  make(map[jobKey]string),
		breakers: make(map[uint64]*circuitbreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls the engine until ctx is cancelled
func (s *Solver) Run(ctx context.Context) {
	s.logger.Info("Starting solver %s with polling interval %v", s.cfg.Address.Hex(), s.cfg.PollingInterval)
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down solver")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick makes one pass over the engine's intents
func (s *Solver) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	open := s.engine.OpenIntents()
	s.logger.Debug("Found %d open intents", len(open))

	for _, rec := range open {
		if ctx.Err() != nil {
			return
		}
		if now.After(rec.AuctionClosesAt) {
			if _, ours := s.bids[rec.ID]; ours {
				s.attempt(ctx, rec, ActionSelect, func() error {
					bid, err := s.engine.SelectBid(ctx, rec.ID)
					if err == nil && bid.Solver != s.cfg.Address {
						s.logger.Info("Lost auction for %s to %s", rec.ID.Hex(), bid.Solver.Hex())
					}
					return err
				})
			}
			continue
		}
		if _, done := s.bids[rec.ID]; !done {
			s.attempt(ctx, rec, ActionBid, func() error { return s.bid(ctx, rec) })
		}
	}

	for _, rec := range s.engine.IntentsInState(models.StateSelected) {
		if ctx.Err() != nil {
			return
		}
		if rec.SelectedSolver != s.cfg.Address {
			continue
		}
		cb := s.breaker(rec.Params.DestinationNetwork)
		if cb.IsOpen() {
			state := cb.State()
			s.logger.DebugWithNetwork(rec.Params.DestinationNetwork,
				"Circuit breaker open (failures: %d), skipping intent %s", state.FailureCount, rec.ID.Hex())
			continue
		}
		s.attempt(ctx, rec, ActionFill, func() error { return s.fill(ctx, rec) })
	}

	metrics.SolverRetryQueueSize.Set(float64(len(s.retries)))
}

func (s *Solver) bid(ctx context.Context, rec *models.IntentRecord) error {
	remaining := rec.Remaining()
	if remaining.Sign() == 0 {
		return nil
	}
	chunk := s.chunk(remaining)
	fee, err := s.engine.QuoteFee(ctx, rec.ID, chunk)
	if err != nil {
		return err
	}

	// one delivery fee per chunk the fill will need
	chunks := new(big.Int).Add(remaining, new(big.Int).Sub(chunk, big.NewInt(1)))
	chunks.Div(chunks, chunk)
	cost := new(big.Int).Mul(fee, chunks)
	cost.Add(cost, s.cfg.Margin)

	if err := s.engine.SubmitBid(ctx, s.cfg.Address, rec.ID, cost, s.cfg.DstGasBudget); err != nil {
		return err
	}
	s.bids[rec.ID] = struct{}{}
	s.logger.InfoWithNetwork(rec.Params.DestinationNetwork, "Bid %s on intent %s", cost, rec.ID.Hex())
	return nil
}

// fill executes chunks until the intent is executed or a chunk fails
func (s *Solver) fill(ctx context.Context, rec *models.IntentRecord) error {
	cb := s.breaker(rec.Params.DestinationNetwork)
	remaining := rec.Remaining()
	for remaining.Sign() > 0 {
		chunk := s.chunk(remaining)
		var (
			receipt *settlement.FillReceipt
			err     error
		)
		if chunk.Cmp(remaining) == 0 {
			receipt, err = s.engine.ExecuteFull(ctx, s.cfg.Address, rec.ID)
		} else {
			receipt, err = s.engine.ExecutePartial(ctx, s.cfg.Address, rec.ID, chunk)
		}
		if err != nil {
			if retry, errorType := shouldRetryError(err); errorType != "already_processed" {
				tripped := cb.RecordFailure()
				s.logger.ErrorWithNetwork(rec.Params.DestinationNetwork,
					"Fill of %s failed (%s, retry: %v, breaker tripped: %v)", rec.ID.Hex(), errorType, retry, tripped)
			}
			return err
		}
		cb.RecordSuccess()
		s.logger.InfoWithNetwork(rec.Params.DestinationNetwork, "Filled %s of intent %s (message %s)",
			receipt.Amount, rec.ID.Hex(), receipt.MessageID.Hex())
		remaining = new(big.Int).Sub(rec.Params.TotalAmount, receipt.FilledAmount)
	}
	return nil
}

func (s *Solver) chunk(remaining *big.Int) *big.Int {
	if s.cfg.MaxFill == nil || s.cfg.MaxFill.Sign() <= 0 || s.cfg.MaxFill.Cmp(remaining) >= 0 {
		return new(big.Int).Set(remaining)
	}
	return new(big.Int).Set(s.cfg.MaxFill)
}

// attempt runs an action unless it is waiting on a backoff or was given up,
// and schedules a retry when it fails with a retryable error
func (s *Solver) attempt(ctx context.Context, rec *models.IntentRecord, action string, fn func() error) {
	key := jobKey{id: rec.ID, action: action}
	if _, ok := s.givenUp[key]; ok {
		return
	}
	now := s.clock()
	job, waiting := s.retries[key]
	if waiting && now.Before(job.NextAttempt) {
		return
	}

	err := fn()
	metrics.SolverActions.WithLabelValues(action, settlement.ErrorKind(err)).Inc()
	if err == nil {
		delete(s.retries, key)
		return
	}

	shouldRetry, errorType := shouldRetryError(err)
	if !shouldRetry {
		delete(s.retries, key)
		s.givenUp[key] = errorType
		if errorType == "already_processed" {
			s.logger.Debug("Skipping %s on %s: %v", action, rec.ID.Hex(), err)
		} else {
			s.logger.Error("Not retrying %s on %s due to permanent error type: %s (%v)", action, rec.ID.Hex(), errorType, err)
		}
		return
	}

	if job.RetryCount >= s.cfg.MaxRetries {
		delete(s.retries, key)
		s.givenUp[key] = errorType
		s.logger.Error("Max retries reached for %s on %s, giving up (error: %s)", action, rec.ID.Hex(), errorType)
		metrics.SolverMaxRetriesReached.WithLabelValues(action, errorType).Inc()
		return
	}

	backoff := calculateBackoff(job.RetryCount)
	s.retries[key] = models.RetryJob{
		IntentID:    rec.ID,
		Action:      action,
		RetryCount:  job.RetryCount + 1,
		NextAttempt: now.Add(backoff),
		ErrorType:   errorType,
	}
	metrics.SolverRetries.WithLabelValues(action, errorType).Inc()
	s.logger.Info("Scheduling retry of %s on %s in %v (error: %s)", action, rec.ID.Hex(), backoff, errorType)
}

func (s *Solver) breaker(destination uint64) *circuitbreaker.CircuitBreaker {
	cb, ok := s.breakers[destination]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(strconv.FormatUint(destination, 10), s.cfg.CircuitBreaker, s.logger,
			circuitbreaker.WithClock(s.clock),
			circuitbreaker.OnTrip(func(name string) {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}))
		s.breakers[destination] = cb
	}
	return cb
}

// RetryJobs returns the scheduled retries, soonest first
func (s *Solver) RetryJobs() []models.RetryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RetryJob, 0, len(s.retries))
	for _, job := range s.retries {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	return out
}

// Status returns a snapshot for the health endpoints
func (s *Solver) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Address:    s.cfg.Address,
		RetryQueue: len(s.retries),
		GivenUp:    len(s.givenUp),
	}
	for _, cb := range s.breakers {
		st.Breakers = append(st.Breakers, cb.State())
	}
	sort.Slice(st.Breakers, func(i, j int) bool { return st.Breakers[i].Name < st.Breakers[j].Name })
	return st
}

// ResetBreakers closes every circuit breaker
func (s *Solver) ResetBreakers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cb := range s.breakers {
		cb.Reset()
	}
}
