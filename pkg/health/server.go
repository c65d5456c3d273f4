package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
	"github.com/speedrun-hq/speedrun-settlement/pkg/solver"
)

// Engine is the settlement engine surface the server reports on and feeds
type Engine interface {
	Register(ctx context.Context, params models.IntentParams, signature []byte) (common.Hash, error)
	SubmitBid(ctx context.Context, solver common.Address, id common.Hash, executionCost *big.Int, dstGasBudget uint64) error
	Stats() map[models.State]int
	OracleConfig() models.OracleConfig
	OracleConfigured() bool
	Intent(id common.Hash) (*models.IntentRecord, error)
	InDoubtFills() []settlement.InDoubtFill
}

// Solver is the optional solver agent
type Solver interface {
	Status() solver.Status
	ResetBreakers()
}

// Server represents a health check HTTP server
type Server struct {
	port          string
	metricsAPIKey string
	engine        Engine
	solver        Solver
	custody       Custody
	spender       common.Address
	logger        logger.Logger
	srv           *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithCustody enables custody deposits; deposited funds are approved to spender
func WithCustody(c Custody, spender common.Address) Option {
	return func(s *Server) {
		s.custody = c
		s.spender = spender
	}
}

// NewServer creates a new health check server. sol may be nil.
func NewServer(port, metricsAPIKey string, engine Engine, sol Solver, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		port:          port,
		metricsAPIKey: metricsAPIKey,
		engine:        engine,
		solver:        sol,
		logger:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// authMiddleware checks for a valid API key
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// ready once fills can consult a price feed
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.engine.OracleConfigured() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("No price feed configured"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /intents/{id}", s.handleIntent)
	mux.Handle("POST /circuit/reset", s.authMiddleware(http.HandlerFunc(s.handleCircuitReset)))
	mux.Handle("POST /intents", s.requireKey(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /intents/{id}/bids", s.requireKey(http.HandlerFunc(s.handleBid)))
	mux.Handle("POST /custody/deposits", s.requireKey(http.HandlerFunc(s.handleDeposit)))
	mux.Handle("GET /metrics", s.authMiddleware(promhttp.Handler()))

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	intents := make(map[string]int)
	for state, n := range s.engine.Stats() {
		intents[state.String()] = n
	}

	status := map[string]interface{}{
		"intents":    intents,
		"oracle":     s.engine.OracleConfig(),
		"oracle_set": s.engine.OracleConfigured(),
		"in_doubt":   len(s.engine.InDoubtFills()),
	}
	if s.solver != nil {
		status["solver"] = s.solver.Status()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIntentID(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Intent(id)
	if errors.Is(err, settlement.ErrIntentNotFound) {
		http.Error(w, "Intent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if s.solver == nil {
		http.Error(w, "No solver running", http.StatusNotFound)
		return
	}
	s.solver.ResetBreakers()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Circuit breakers reset"))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
