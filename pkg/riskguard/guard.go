// Package riskguard decides whether a fill may proceed given the latest
// oracle reading. Checks are pure: the caller supplies the reading and the
// evaluation time.
package riskguard

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
)

// BpsDenominator is the basis-point scale
const BpsDenominator = 10_000

var (
	ErrMissingOracle   = errors.New("no oracle configured")
	ErrOracleStale     = errors.New("oracle reading is stale")
	ErrOracleDeviation = errors.New("oracle price deviates from reference")
)

// Policy is the engine-wide oracle configuration applied to a check
type Policy struct {
	DefaultDeviationBps uint32
	MaxStalenessSeconds uint64
}

// EffectiveDeviationBps returns the intent's tolerance when set, otherwise the default
func (p Policy) EffectiveDeviationBps(intentBps uint32) uint32 {
	if intentBps != 0 {
		return intentBps
	}
	return p.DefaultDeviationBps
}

// Check validates a reading against a reference price. A nil reading means no
// oracle source is configured.
func Check(reading *oracle.Reading, referencePrice *big.Int, intentBps uint32, policy Policy, now time.Time) error {
	if reading == nil {
		return ErrMissingOracle
	}

	if reading.UpdatedAt.IsZero() || reading.UpdatedAt.Unix() == 0 {
		return fmt.Errorf("%w: reading has no timestamp", ErrOracleStale)
	}
	age := now.Unix() - reading.UpdatedAt.Unix()
	if age > 0 && uint64(age) > policy.MaxStalenessSeconds {
		return fmt.Errorf("%w: age %ds exceeds %ds", ErrOracleStale, age, policy.MaxStalenessSeconds)
	}

	if reading.Price == nil || reading.Price.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrOracleDeviation)
	}

	ref := new(big.Int)
	if referencePrice != nil {
		ref.Set(referencePrice)
	}
	bps := policy.EffectiveDeviationBps(intentBps)

	// |price - ref| * 10000 > |ref| * bps
	diff := new(big.Int).Sub(reading.Price, ref)
	diff.Abs(diff).Mul(diff, big.NewInt(BpsDenominator))
	limit := new(big.Int).Abs(ref)
	limit.Mul(limit, new(big.Int).SetUint64(uint64(bps)))
	if diff.Cmp(limit) > 0 {
		return fmt.Errorf("%w: price %s reference %s tolerance %d bps",
			ErrOracleDeviation, reading.Price.String(), ref.String(), bps)
	}
	return nil
}
