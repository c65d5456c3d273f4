package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chains"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

const (
	// DefaultNetworkID is the source network the engine serves
	DefaultNetworkID = 1

	// DefaultDestinationNetworkID is the network the local receiver runs for
	DefaultDestinationNetworkID = 8453

	// DefaultDeviationBps is the global price deviation bound
	DefaultDeviationBps = 50

	// DefaultMaxStalenessSeconds is the oldest acceptable oracle reading
	DefaultMaxStalenessSeconds = 3600

	// DefaultOracleCacheTTL leaves caching off so every fill sees a fresh reading
	DefaultOracleCacheTTL time.Duration = 0

	// DefaultDestinationGas is used when the selected solver committed no gas budget
	DefaultDestinationGas = 300000

	// DefaultPollingInterval defines the default polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultMaxRetries defines the maximum number of retries for failed operations
	DefaultMaxRetries = 10

	// DefaultTransportBaseFee and DefaultTransportFeePerGas price loopback deliveries
	DefaultTransportBaseFee   = "100000000000000"
	DefaultTransportFeePerGas = "1000000000"

	// DefaultFeeReserve is the native balance credited to the engine at startup
	DefaultFeeReserve = "1000000000000000000"
)

func getEnvUint(key string, def uint64) (uint64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an unsigned integer", key, raw)
	}
	return v, nil
}

func getEnvAddress(key string) (common.Address, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func getEnvBigInt(key, def string) (*big.Int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", key, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be greater than or equal to 0", key)
	}
	return v, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	switch raw {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, raw)
}

// GetEnvNetworkID returns the source network id from environment variables
func GetEnvNetworkID() (uint64, error) {
	id, err := getEnvUint("NETWORK_ID", DefaultNetworkID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("NETWORK_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvDestinationNetworkID returns the destination network id from environment variables
func GetEnvDestinationNetworkID() (uint64, error) {
	id, err := getEnvUint("DESTINATION_NETWORK_ID", DefaultDestinationNetworkID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("DESTINATION_NETWORK_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvEngineAddress returns the engine's custody and signing address
func GetEnvEngineAddress() (common.Address, error) {
	return getEnvAddress("ENGINE_ADDRESS")
}

// GetEnvOwnerAddress returns the address allowed to change the oracle configuration
func GetEnvOwnerAddress() (common.Address, error) {
	return getEnvAddress("OWNER_ADDRESS")
}

// GetEnvReceiverAddress returns the gateway account destination deliveries are made from
func GetEnvReceiverAddress() (common.Address, error) {
	return getEnvAddress("RECEIVER_ADDRESS")
}

// GetEnvOracleFeedAddress returns the Chainlink aggregator address, zero when unset
func GetEnvOracleFeedAddress() (common.Address, error) {
	return getEnvAddress("ORACLE_FEED_ADDRESS")
}

// GetEnvDeviationBps returns the global deviation bound in basis points
func GetEnvDeviationBps() (uint32, error) {
	bps, err := getEnvUint("DEFAULT_DEVIATION_BPS", DefaultDeviationBps)
	if err != nil {
		return 0, err
	}
	if bps > 10000 {
		return 0, fmt.Errorf("DEFAULT_DEVIATION_BPS must be at most 10000")
	}
	return uint32(bps), nil
}

// GetEnvMaxStalenessSeconds returns the oldest acceptable oracle reading age
func GetEnvMaxStalenessSeconds() (uint64, error) {
	return getEnvUint("MAX_STALENESS_SECONDS", DefaultMaxStalenessSeconds)
}

// GetEnvOracleCacheTTL returns how long a price reading is cached, zero disables caching
func GetEnvOracleCacheTTL() (time.Duration, error) {
	ttl, err := getEnvDuration("ORACLE_CACHE_TTL", DefaultOracleCacheTTL)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, fmt.Errorf("ORACLE_CACHE_TTL must not be negative")
	}
	return ttl, nil
}

// GetEnvDefaultDestinationGas returns the fallback destination gas budget. When
// unset, the known budget of the destination network is used.
func GetEnvDefaultDestinationGas(destination uint64) (uint64, error) {
	gas, err := getEnvUint("DEFAULT_DESTINATION_GAS", chains.DefaultDestinationGas(destination, DefaultDestinationGas))
	if err != nil {
		return 0, err
	}
	if gas == 0 {
		return 0, fmt.Errorf("DEFAULT_DESTINATION_GAS must be greater than 0")
	}
	return gas, nil
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, raw)
	}
	return parsed, nil
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvSolverMargin returns the amount a solver adds to quoted fees when bidding
func GetEnvSolverMargin() (*big.Int, error) {
	return getEnvBigInt("SOLVER_MARGIN", "0")
}

// GetEnvSolverMaxFill returns the largest single fill, zero for unlimited
func GetEnvSolverMaxFill() (*big.Int, error) {
	return getEnvBigInt("SOLVER_MAX_FILL", "0")
}

// GetEnvTransportBaseFee returns the flat part of a delivery fee
func GetEnvTransportBaseFee() (*big.Int, error) {
	return getEnvBigInt("TRANSPORT_BASE_FEE", DefaultTransportBaseFee)
}

// GetEnvTransportFeePerGas returns the per-gas part of a delivery fee
func GetEnvTransportFeePerGas() (*big.Int, error) {
	return getEnvBigInt("TRANSPORT_FEE_PER_GAS", DefaultTransportFeePerGas)
}

// GetEnvFeeReserve returns the native balance credited to the engine at startup
func GetEnvFeeReserve() (*big.Int, error) {
	return getEnvBigInt("FEE_RESERVE", DefaultFeeReserve)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log output is coloured
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", false)
}
