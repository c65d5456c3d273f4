package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
)

// SetOracleConfig replaces the price feed and the default risk bounds.
// Only the owner may call it. A nil feed disables fills until one is set.
func (e *Engine) SetOracleConfig(ctx context.Context, caller common.Address, feed oracle.Feed, deviationBps uint32, maxStalenessSeconds uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}

	cfg := models.OracleConfig{
		DefaultDeviationBps: deviationBps,
		MaxStalenessSeconds: maxStalenessSeconds,
	}
	if feed != nil {
		cfg.FeedID = feed.ID()
	}
	if err := e.record(ctx, oplog.KindOracleConfigChanged, common.Hash{}, oplog.OracleConfigChanged{Config: cfg}); err != nil {
		return err
	}

	e.feed = feed
	e.oracleCfg = cfg
	e.emit(models.EventOracleConfigChanged, common.Hash{}, nil)
	e.logger.Notice("Oracle config changed: feed %q deviation %d bps staleness %ds",
		cfg.FeedID, cfg.DefaultDeviationBps, cfg.MaxStalenessSeconds)
	return nil
}

// OracleConfig returns the active oracle configuration
func (e *Engine) OracleConfig() models.OracleConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oracleCfg
}

// OracleConfigured reports whether fills can currently consult a feed
func (e *Engine) OracleConfigured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feed != nil
}
