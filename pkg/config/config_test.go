package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

func setRequired(t *testing.T) {
	t.Setenv("ENGINE_ADDRESS", "0x00000000000000000000000000000000000e0001")
	t.Setenv("OWNER_ADDRESS", "0x00000000000000000000000000000000000f0001")
	t.Setenv("RECEIVER_ADDRESS", "0x00000000000000000000000000000000000d0001")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, uint64(DefaultNetworkID), cfg.NetworkID)
	assert.Equal(t, uint64(DefaultDestinationNetworkID), cfg.DestinationNetworkID)
	assert.Equal(t, common.HexToAddress("0xe0001"), cfg.EngineAddress)
	assert.Equal(t, uint32(DefaultDeviationBps), cfg.Oracle.DeviationBps)
	assert.Equal(t, uint64(DefaultMaxStalenessSeconds), cfg.Oracle.MaxStalenessSeconds)
	assert.Zero(t, cfg.Oracle.CacheTTL, "caching is opt-in")
	assert.Equal(t, uint64(400000), cfg.DefaultDestinationGas, "known budget for Base")
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
	assert.Equal(t, 5*time.Second, cfg.Solver.PollingInterval)
	assert.Equal(t, DefaultMaxRetries, cfg.Solver.MaxRetries)
	assert.True(t, cfg.Solver.CircuitBreaker.Enabled)
	assert.Equal(t, DefaultCircuitBreakerWindow, cfg.Solver.CircuitBreaker.WindowDuration)
	assert.Equal(t, int64(0), cfg.Solver.MaxFill.Int64())
	assert.Equal(t, DefaultTransportFeePerGas, cfg.Transport.FeePerGas.String())
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
	assert.False(t, cfg.LoggerConfig.Coloring)
	assert.Empty(t, cfg.OplogPath)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("NETWORK_ID", "42161")
	t.Setenv("DESTINATION_NETWORK_ID", "137")
	t.Setenv("DEFAULT_DEVIATION_BPS", "125")
	t.Setenv("MAX_STALENESS_SECONDS", "90")
	t.Setenv("ORACLE_RPC_URL", "http://localhost:8545")
	t.Setenv("ORACLE_FEED_ADDRESS", "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6")
	t.Setenv("OPLOG_PATH", "/tmp/oplog.db")
	t.Setenv("ORACLE_CACHE_TTL", "30s")
	t.Setenv("DEFAULT_DESTINATION_GAS", "250000")
	t.Setenv("SOLVER_MAX_FILL", "250")
	t.Setenv("CIRCUIT_BREAKER_RESET", "90s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_COLORING", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, uint64(42161), cfg.NetworkID)
	assert.Equal(t, uint64(137), cfg.DestinationNetworkID)
	assert.Equal(t, uint32(125), cfg.Oracle.DeviationBps)
	assert.Equal(t, uint64(90), cfg.Oracle.MaxStalenessSeconds)
	assert.Equal(t, common.HexToAddress("0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6"), cfg.Oracle.FeedAddress)
	assert.Equal(t, "/tmp/oplog.db", cfg.OplogPath)
	assert.Equal(t, 30*time.Second, cfg.Oracle.CacheTTL)
	assert.Equal(t, uint64(250000), cfg.DefaultDestinationGas)
	assert.Equal(t, int64(250), cfg.Solver.MaxFill.Int64())
	assert.Equal(t, 90*time.Second, cfg.Solver.CircuitBreaker.ResetTimeout)
	assert.Equal(t, logger.DebugLevel, cfg.LoggerConfig.Level)
	assert.True(t, cfg.LoggerConfig.Coloring)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing engine", map[string]string{"ENGINE_ADDRESS": ""}},
		{"missing owner", map[string]string{"OWNER_ADDRESS": ""}},
		{"bad address", map[string]string{"OWNER_ADDRESS": "0x123"}},
		{"bad network", map[string]string{"NETWORK_ID": "base"}},
		{"zero network", map[string]string{"NETWORK_ID": "0"}},
		{"same networks", map[string]string{"NETWORK_ID": "8453"}},
		{"bps over 100%", map[string]string{"DEFAULT_DEVIATION_BPS": "10001"}},
		{"zero gas", map[string]string{"DEFAULT_DESTINATION_GAS": "0"}},
		{"negative margin", map[string]string{"SOLVER_MARGIN": "-1"}},
		{"bad fee", map[string]string{"TRANSPORT_BASE_FEE": "1e9"}},
		{"bad polling interval", map[string]string{"POLLING_INTERVAL": "0"}},
		{"bad breaker flag", map[string]string{"CIRCUIT_BREAKER_ENABLED": "yes"}},
		{"bad breaker window", map[string]string{"CIRCUIT_BREAKER_WINDOW": "5"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"feed without rpc", map[string]string{"ORACLE_FEED_ADDRESS": "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6"}},
		{"negative cache ttl", map[string]string{"ORACLE_CACHE_TTL": "-1s"}},
		{"bad metrics port", map[string]string{"METRICS_PORT": "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
