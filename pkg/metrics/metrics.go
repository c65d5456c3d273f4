package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics
var (
	IntentsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_intents_registered_total",
		Help: "Registration attempts by outcome",
	}, []string{"network_id", "outcome"})

	BidsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_bids_total",
		Help: "Bid submissions by outcome",
	}, []string{"outcome"})

	AuctionsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_auctions_selected_total",
		Help: "Auction selection attempts by outcome",
	}, []string{"outcome"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_fills_total",
		Help: "Fill attempts by kind (full, partial) and outcome",
	}, []string{"destination", "kind", "outcome"})

	FillDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_fill_seconds",
		Help:    "Time taken by a fill including transport dispatch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"destination"})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_risk_rejections_total",
		Help: "Fills rejected by the price risk guard by reason",
	}, []string{"reason"})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_dispatch_failures_total",
		Help: "Transport dispatch failures that were rolled back",
	}, []string{"destination"})

	JournalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_journal_failures_total",
		Help: "Operation log append failures by entry kind",
	}, []string{"kind"})

	IntentsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_intents",
		Help: "Number of intents per lifecycle state",
	}, []string{"state"})

	FeesReserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_fees_reserved",
		Help: "Fee asset currently reserved by in-flight fills",
	})
)

// Oracle metrics
var (
	OracleReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_oracle_reads_total",
		Help: "Price feed reads by feed and result (hit, miss, error)",
	}, []string{"feed", "result"})
)

// Receiver metrics
var (
	CompletionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_completions_total",
		Help: "Inbound settlement messages by origin and outcome",
	}, []string{"origin", "outcome"})
)

// Solver agent metrics
var (
	SolverActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_actions_total",
		Help: "Solver agent calls into the engine by action and outcome",
	}, []string{"action", "outcome"})

	SolverRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_retries_total",
		Help: "Solver actions scheduled for retry by error kind",
	}, []string{"action", "error_type"})

	SolverMaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_max_retries_reached_total",
		Help: "Solver actions dropped after the maximum retry count",
	}, []string{"action", "error_type"})

	SolverRetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_retry_queue_size",
		Help: "Current size of the solver retry queue",
	})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_circuit_breaker_trips_total",
		Help: "Circuit breaker trips per destination network",
	}, []string{"destination"})
)
