package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

// Config holds the configuration for the settlement service
type Config struct {
	NetworkID            uint64
	EngineAddress        common.Address
	OwnerAddress         common.Address
	DestinationNetworkID uint64
	ReceiverAddress      common.Address

	Oracle                OracleConfig
	DefaultDestinationGas uint64
	OplogPath             string

	Transport TransportConfig
	Solver    SolverConfig

	MetricsPort   string
	MetricsAPIKey string
	LoggerConfig  LoggerConfig
}

// OracleConfig selects the price feed and its default risk bounds
type OracleConfig struct {
	RPCURL              string
	FeedAddress         common.Address
	DeviationBps        uint32
	MaxStalenessSeconds uint64
	CacheTTL            time.Duration
}

// TransportConfig prices loopback deliveries
type TransportConfig struct {
	BaseFee    *big.Int
	FeePerGas  *big.Int
	FeeReserve *big.Int
}

// SolverConfig holds the in-process solver settings. An empty PrivateKey disables the solver.
type SolverConfig struct {
	PrivateKey      string
	Margin          *big.Int
	MaxFill         *big.Int
	PollingInterval time.Duration
	MaxRetries      int
	CircuitBreaker  CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment
func FromEnv() (*Config, error) {
	cfg := &Config{
		OplogPath:     os.Getenv("OPLOG_PATH"),
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
	}
	cfg.Oracle.RPCURL = os.Getenv("ORACLE_RPC_URL")
	cfg.Solver.PrivateKey = os.Getenv("SOLVER_PRIVATE_KEY")

	var err error
	if cfg.NetworkID, err = GetEnvNetworkID(); err != nil {
		return nil, err
	}
	if cfg.DestinationNetworkID, err = GetEnvDestinationNetworkID(); err != nil {
		return nil, err
	}
	if cfg.EngineAddress, err = GetEnvEngineAddress(); err != nil {
		return nil, err
	}
	if cfg.OwnerAddress, err = GetEnvOwnerAddress(); err != nil {
		return nil, err
	}
	if cfg.ReceiverAddress, err = GetEnvReceiverAddress(); err != nil {
		return nil, err
	}
	if cfg.Oracle.FeedAddress, err = GetEnvOracleFeedAddress(); err != nil {
		return nil, err
	}
	if cfg.Oracle.DeviationBps, err = GetEnvDeviationBps(); err != nil {
		return nil, err
	}
	if cfg.Oracle.MaxStalenessSeconds, err = GetEnvMaxStalenessSeconds(); err != nil {
		return nil, err
	}
	if cfg.Oracle.CacheTTL, err = GetEnvOracleCacheTTL(); err != nil {
		return nil, err
	}
	if cfg.DefaultDestinationGas, err = GetEnvDefaultDestinationGas(cfg.DestinationNetworkID); err != nil {
		return nil, err
	}
	if cfg.Transport.BaseFee, err = GetEnvTransportBaseFee(); err != nil {
		return nil, err
	}
	if cfg.Transport.FeePerGas, err = GetEnvTransportFeePerGas(); err != nil {
		return nil, err
	}
	if cfg.Transport.FeeReserve, err = GetEnvFeeReserve(); err != nil {
		return nil, err
	}
	if cfg.Solver.Margin, err = GetEnvSolverMargin(); err != nil {
		return nil, err
	}
	if cfg.Solver.MaxFill, err = GetEnvSolverMaxFill(); err != nil {
		return nil, err
	}
	if cfg.Solver.PollingInterval, err = GetEnvPollingInterval(); err != nil {
		return nil, err
	}
	if cfg.Solver.MaxRetries, err = GetEnvMaxRetries(); err != nil {
		return nil, err
	}
	if cfg.Solver.CircuitBreaker.Enabled, err = GetEnvCircuitBreakerEnabled(); err != nil {
		return nil, err
	}
	if cfg.Solver.CircuitBreaker.Threshold, err = GetEnvCircuitBreakerThreshold(); err != nil {
		return nil, err
	}
	if cfg.Solver.CircuitBreaker.WindowDuration, err = GetEnvCircuitBreakerWindow(); err != nil {
		return nil, err
	}
	if cfg.Solver.CircuitBreaker.ResetTimeout, err = GetEnvCircuitBreakerReset(); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = GetEnvMetricsPort(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Level, err = GetEnvLogLevel(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Coloring, err = GetEnvLogColoring(); err != nil {
		return nil, err
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.EngineAddress == (common.Address{}) {
		return fmt.Errorf("ENGINE_ADDRESS environment variable is required")
	}
	if cfg.OwnerAddress == (common.Address{}) {
		return fmt.Errorf("OWNER_ADDRESS environment variable is required")
	}
	if cfg.ReceiverAddress == (common.Address{}) {
		return fmt.Errorf("RECEIVER_ADDRESS environment variable is required")
	}
	if cfg.DestinationNetworkID == cfg.NetworkID {
		return fmt.Errorf("DESTINATION_NETWORK_ID must differ from NETWORK_ID")
	}
	if (cfg.Oracle.RPCURL == "") != (cfg.Oracle.FeedAddress == common.Address{}) {
		return fmt.Errorf("ORACLE_RPC_URL and ORACLE_FEED_ADDRESS must be set together")
	}
	return nil
}
