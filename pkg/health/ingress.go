package health

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/speedrun-hq/speedrun-settlement/pkg/custody"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
)

// maxBodyBytes bounds ingress request bodies
const maxBodyBytes = 64 << 10

// Custody is the ledger makers fund before their intents can be filled
type Custody interface {
	Deposit(token, account, spender common.Address, amount *big.Int) error
	BalanceOf(token, account common.Address) *big.Int
	Allowance(token, owner, spender common.Address) *big.Int
}

type registerRequest struct {
	Params    models.IntentParams `json:"params"`
	Signature hexutil.Bytes       `json:"signature"`
}

type bidRequest struct {
	Solver        common.Address `json:"solver"`
	ExecutionCost *big.Int       `json:"execution_cost"`
	DstGasBudget  uint64         `json:"dst_gas_budget"`
}

type depositRequest struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// requireKey guards write routes. They stay closed when no API key is configured.
func (s *Server) requireKey(next http.Handler) http.Handler {
	guarded := s.authMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			http.Error(w, "Ingress requires an API key", http.StatusForbidden)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.engine.Register(r.Context(), req.Params, req.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]common.Hash{"id": id})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIntentID(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.SubmitBid(r.Context(), req.Solver, id, req.ExecutionCost, req.DstGasBudget); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"intent_id": id, "solver": req.Solver})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		http.Error(w, "No custody ledger", http.StatusNotFound)
		return
	}
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Account == (common.Address{}) {
		http.Error(w, "Missing account", http.StatusBadRequest)
		return
	}

	if err := s.custody.Deposit(req.Token, req.Account, s.spender, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Deposited %s of %s for %s", req.Amount, req.Token.Hex(), req.Account.Hex())
	s.writeJSON(w, http.StatusOK, map[string]*big.Int{
		"balance":   s.custody.BalanceOf(req.Token, req.Account),
		"allowance": s.custody.Allowance(req.Token, req.Account, s.spender),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func parseIntentID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	b, err := hexutil.Decode(r.PathValue("id"))
	if err != nil || len(b) != common.HashLength {
		http.Error(w, "Invalid intent id", http.StatusBadRequest)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Ingress request failed: %v", err)
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error(), Kind: settlement.ErrorKind(err)})
}

// statusFor maps engine rejections to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, settlement.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrNonceAlreadyUsed),
		errors.Is(err, settlement.ErrDuplicateBid),
		errors.Is(err, settlement.ErrWrongState),
		errors.Is(err, settlement.ErrAuctionNotOpen),
		errors.Is(err, settlement.ErrIntentExpired):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrInvalidIntentParams),
		errors.Is(err, settlement.ErrInvalidSignature),
		errors.Is(err, settlement.ErrInvalidBid),
		errors.Is(err, settlement.ErrZeroAmount),
		errors.Is(err, custody.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
