package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

// PriceDecimals is the fixed-point scale of every reading and reference price
const PriceDecimals = 8

// ErrNoReading is returned by a feed that has never been updated
var ErrNoReading = errors.New("feed has no reading")

// Reading is a single price observation
type Reading struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// Feed is a source of commodity price readings
type Feed interface {
	// ID identifies the feed in logs and configuration snapshots
	ID() string
	// LatestReading returns the most recent observation
	LatestReading(ctx context.Context) (Reading, error)
}

// ManualFeed is a feed whose readings are pushed by the operator or by tests
type ManualFeed struct {
	id      string
	mu      sync.RWMutex
	reading *Reading
}

// NewManualFeed creates an empty manual feed
func NewManualFeed(id string) *ManualFeed {
	return &ManualFeed{id: id}
}

// ID implements Feed
func (f *ManualFeed) ID() string {
	return f.id
}

// Set replaces the current reading
func (f *ManualFeed) Set(price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = &Reading{Price: new(big.Int).Set(price), UpdatedAt: updatedAt}
}

// LatestReading implements Feed
func (f *ManualFeed) LatestReading(ctx context.Context) (Reading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.reading == nil {
		return Reading{}, ErrNoReading
	}
	return Reading{Price: new(big.Int).Set(f.reading.Price), UpdatedAt: f.reading.UpdatedAt}, nil
}

// Scale converts a fixed-point value with the given decimals to PriceDecimals.
// Precision beyond PriceDecimals is truncated toward zero.
func Scale(value *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(value)
	switch {
	case decimals > PriceDecimals:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-PriceDecimals)), nil)
		out.Quo(out, div)
	case decimals < PriceDecimals:
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PriceDecimals-decimals)), nil)
		out.Mul(out, mul)
	}
	return out
}
