package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
)

// CachedFeed serves repeated reads from memory to avoid duplicate RPC calls.
// A cached reading keeps the UpdatedAt reported by the feed, so staleness is
// still judged on the feed's own timestamp.
type CachedFeed struct {
	feed  Feed
	ttl   time.Duration
	clock func() time.Time

	mu       sync.RWMutex
	reading  *Reading
	cachedAt time.Time
}

// NewCachedFeed wraps feed with a cache that keeps a reading for ttl
func NewCachedFeed(feed Feed, ttl time.Duration) *CachedFeed {
	return &CachedFeed{feed: feed, ttl: ttl, clock: time.Now}
}

// ID implements Feed
func (c *CachedFeed) ID() string {
	return c.feed.ID()
}

// LatestReading implements Feed. Errors are never cached.
func (c *CachedFeed) LatestReading(ctx context.Context) (Reading, error) {
	if r, ok := c.get(); ok {
		metrics.OracleReads.WithLabelValues(c.ID(), "hit").Inc()
		return r, nil
	}

	r, err := c.feed.LatestReading(ctx)
	if err != nil {
		metrics.OracleReads.WithLabelValues(c.ID(), "error").Inc()
		return Reading{}, err
	}
	metrics.OracleReads.WithLabelValues(c.ID(), "miss").Inc()

	c.mu.Lock()
	c.reading = &Reading{Price: new(big.Int).Set(r.Price), UpdatedAt: r.UpdatedAt}
	c.cachedAt = c.clock()
	c.mu.Unlock()
	return r, nil
}

func (c *CachedFeed) get() (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.reading == nil || c.clock().Sub(c.cachedAt) >= c.ttl {
		return Reading{}, false
	}
	return Reading{Price: new(big.Int).Set(c.reading.Price), UpdatedAt: c.reading.UpdatedAt}, true
}

// Clear drops the cached reading
func (c *CachedFeed) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = nil
}
