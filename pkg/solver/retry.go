package solver

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
)

// maxBackoff caps the exponential retry delay
const maxBackoff = 2 * time.Minute

// shouldRetryError classifies errors to determine if a retry should be attempted.
// Returns (shouldRetry, errorType).
func shouldRetryError(err error) (bool, string) {
	switch {
	// someone else already moved the intent on, nothing to do
	case errors.Is(err, settlement.ErrDuplicateBid),
		errors.Is(err, settlement.ErrWrongState),
		errors.Is(err, settlement.ErrAuctionNotOpen),
		errors.Is(err, settlement.ErrNotSelectedSolver),
		errors.Is(err, settlement.ErrIntentExpired):
		return false, "already_processed"

	// price conditions can change between attempts
	case errors.Is(err, settlement.ErrOracleStale),
		errors.Is(err, settlement.ErrOracleDeviation),
		errors.Is(err, settlement.ErrMissingOracle):
		return true, settlement.ErrorKind(err)

	case errors.Is(err, settlement.ErrFillInProgress),
		errors.Is(err, settlement.ErrAuctionStillOpen),
		errors.Is(err, settlement.ErrDispatchFailed),
		errors.Is(err, settlement.ErrFillInDoubt),
		errors.Is(err, settlement.ErrInsufficientFeeReserve):
		return true, settlement.ErrorKind(err)

	case errors.Is(err, context.DeadlineExceeded):
		return true, "network_error"

	// rejected for good
	case errors.Is(err, settlement.ErrNoBids),
		errors.Is(err, settlement.ErrOverFill),
		errors.Is(err, settlement.ErrZeroAmount),
		errors.Is(err, settlement.ErrInvalidBid),
		errors.Is(err, settlement.ErrIntentNotFound),
		errors.Is(err, settlement.ErrInvalidIntentParams):
		return false, settlement.ErrorKind(err)
	}

	return true, "unknown_error"
}

// calculateBackoff returns 2^retryCount * 10s, at most two minutes
func calculateBackoff(retryCount int) time.Duration {
	if retryCount > 10 {
		return maxBackoff
	}
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * 10 * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
