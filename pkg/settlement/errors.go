package settlement

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/speedrun-settlement/pkg/riskguard"
)

// Rejections. None of them leaves a partial state change behind.
var (
	ErrMissingOracle   = riskguard.ErrMissingOracle
	ErrOracleStale     = riskguard.ErrOracleStale
	ErrOracleDeviation = riskguard.ErrOracleDeviation

	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNonceAlreadyUsed    = errors.New("nonce already used")
	ErrInvalidIntentParams = errors.New("invalid intent params")
	ErrIntentExpired       = errors.New("intent expired")
	ErrWrongState          = errors.New("wrong state")
	ErrAuctionNotOpen      = errors.New("auction not open")
	ErrAuctionStillOpen    = errors.New("auction still open")
	ErrNoBids              = errors.New("no bids")
	ErrDuplicateBid        = errors.New("duplicate bid")
	ErrNotSelectedSolver   = errors.New("not selected solver")
	ErrZeroAmount          = errors.New("zero amount")
	ErrOverFill            = errors.New("amount exceeds remaining")

	ErrIntentNotFound = errors.New("intent not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidBid     = errors.New("invalid bid")
	// ErrFillInProgress rejects a fill re-entering an intent whose previous fill
	// has not finished
	ErrFillInProgress = errors.New("fill in progress")
	// ErrDispatchFailed means the transport refused the message and the fill was rolled back
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrFillInDoubt means the message was sent but the fill could not be
	// journaled; it is held until the owner resolves it
	ErrFillInDoubt = errors.New("fill in doubt")

	ErrInsufficientFeeReserve = fmt.Errorf("%w: insufficient fee reserve", ErrInvalidIntentParams)
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrMissingOracle, "missing_oracle"},
	{ErrOracleStale, "oracle_stale"},
	{ErrOracleDeviation, "oracle_deviation"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrNonceAlreadyUsed, "nonce_already_used"},
	{ErrInsufficientFeeReserve, "insufficient_fee_reserve"},
	{ErrInvalidIntentParams, "invalid_intent_params"},
	{ErrIntentExpired, "intent_expired"},
	{ErrWrongState, "wrong_state"},
	{ErrAuctionNotOpen, "auction_not_open"},
	{ErrAuctionStillOpen, "auction_still_open"},
	{ErrNoBids, "no_bids"},
	{ErrDuplicateBid, "duplicate_bid"},
	{ErrNotSelectedSolver, "not_selected_solver"},
	{ErrZeroAmount, "zero_amount"},
	{ErrOverFill, "over_fill"},
	{ErrIntentNotFound, "intent_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidBid, "invalid_bid"},
	{ErrFillInProgress, "fill_in_progress"},
	{ErrDispatchFailed, "dispatch_failed"},
	{ErrFillInDoubt, "fill_in_doubt"},
}

// ErrorKind returns a stable label for err, "ok" for nil and "internal" for
// anything outside the rejection taxonomy
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
