package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

// Config holds the breaker thresholds
type Config struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration
	ResetTimeout  time.Duration
}

// CircuitBreaker stops an action after Threshold failures inside FailureWindow
// and lets it through again once ResetTimeout has passed since the trip
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger logger.Logger
	clock  func() time.Time
	onTrip func(name string)

	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	tripped      bool
	tripTime     time.Time
}

// State is a snapshot of a breaker
type State struct {
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Tripped      bool      `json:"tripped"`
	FailureCount int       `json:"failure_count"`
	Threshold    int       `json:"threshold"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	TripTime     time.Time `json:"trip_time,omitempty"`
}

// Option customises a breaker
type Option func(*CircuitBreaker)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.clock = clock }
}

// OnTrip registers a callback invoked every time the breaker trips
func OnTrip(fn func(name string)) Option {
	return func(cb *CircuitBreaker) { cb.onTrip = fn }
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg Config, log logger.Logger, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: log,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// RecordFailure records a failure and trips the circuit if threshold is reached.
// It reports whether the circuit is open afterwards.
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()

	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.cfg.ResetTimeout {
			cb.logger.Info("Circuit breaker %s: attempting to reset after timeout", cb.name)
			cb.tripped = false
			cb.failureCount = 0
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.cfg.FailureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.cfg.Threshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.Error("Circuit breaker %s tripped: %d failures in window", cb.name, cb.failureCount)
		if cb.onTrip != nil {
			cb.onTrip(cb.name)
		}
		return true
	}

	return false
}

// RecordSuccess clears the failure count of a closed circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// If tripped but reset timeout has passed, try again
	if cb.tripped && cb.clock().Sub(cb.tripTime) > cb.cfg.ResetTimeout {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
	cb.logger.Notice("Circuit breaker %s reset", cb.name)
}

// State returns a snapshot of the breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Name:         cb.name,
		Enabled:      cb.cfg.Enabled,
		Tripped:      cb.tripped,
		FailureCount: cb.failureCount,
		Threshold:    cb.cfg.Threshold,
		LastFailure:  cb.lastFailure,
		TripTime:     cb.tripTime,
	}
}
