package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chains"
	"github.com/speedrun-hq/speedrun-settlement/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settlement/pkg/config"
	"github.com/speedrun-hq/speedrun-settlement/pkg/custody"
	"github.com/speedrun-hq/speedrun-settlement/pkg/health"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oplog"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/receiver"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settlement"
	"github.com/speedrun-hq/speedrun-settlement/pkg/solver"
	"github.com/speedrun-hq/speedrun-settlement/pkg/transport"
)

const relayInterval = time.Second

// eventLog writes engine and receiver events to the service log
type eventLog struct {
	logger logger.Logger
}

func (l eventLog) Emit(event models.Event) {
	l.logger.Debug("Event %s intent=%s solver=%s amount=%v message=%s",
		event.Type, event.IntentID.Hex(), event.Solver.Hex(), event.Amount, event.MessageID.Hex())
}

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
	events := eventLog{logger: appLogger}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := custody.NewLedger()
	if err := ledger.Mint(custody.NativeToken, cfg.EngineAddress, cfg.Transport.FeeReserve); err != nil {
		log.Fatalf("Failed to fund fee reserve: %v", err)
	}

	loop := transport.NewLoopback(transport.LoopbackConfig{
		Address:       cfg.ReceiverAddress,
		OriginNetwork: cfg.NetworkID,
		BaseFee:       cfg.Transport.BaseFee,
		FeePerGas:     cfg.Transport.FeePerGas,
	}, appLogger)

	engineOpts := []settlement.Option{
		settlement.WithLogger(appLogger),
		settlement.WithEvents(events),
	}
	if cfg.Oracle.RPCURL != "" {
		feed, err := oracle.DialChainlinkFeed(ctx, cfg.Oracle.RPCURL, cfg.Oracle.FeedAddress)
		if err != nil {
			log.Fatalf("Failed to connect price feed: %v", err)
		}
		if desc, err := feed.Description(ctx); err == nil {
			appLogger.Info("Using price feed %s (%s)", feed.ID(), desc)
		}
		var engineFeed oracle.Feed = feed
		if cfg.Oracle.CacheTTL > 0 {
			engineFeed = oracle.NewCachedFeed(feed, cfg.Oracle.CacheTTL)
		}
		engineOpts = append(engineOpts, settlement.WithFeed(engineFeed))
	} else {
		appLogger.Notice("No price feed configured, fills are disabled until the owner sets one")
	}

	engineCfg := settlement.Config{
		NetworkID:             cfg.NetworkID,
		Address:               cfg.EngineAddress,
		Owner:                 cfg.OwnerAddress,
		FeeToken:              custody.NativeToken,
		DefaultDestinationGas: cfg.DefaultDestinationGas,
		Oracle: models.OracleConfig{
			DefaultDeviationBps: cfg.Oracle.DeviationBps,
			MaxStalenessSeconds: cfg.Oracle.MaxStalenessSeconds,
		},
	}

	var engine *settlement.Engine
	if cfg.OplogPath != "" {
		journal, err := oplog.OpenSQLite(cfg.OplogPath)
		if err != nil {
			log.Fatalf("Failed to open operation log: %v", err)
		}
		defer journal.Close()
		engine, err = settlement.Restore(ctx, journal, engineCfg, ledger, loop, engineOpts...)
		if err != nil {
			log.Fatalf("Failed to restore engine: %v", err)
		}
		for _, f := range engine.InDoubtFills() {
			appLogger.Error("Fill of %s for intent %s is in doubt and needs resolution", f.Amount, f.IntentID.Hex())
		}
	} else {
		engine = settlement.New(engineCfg, ledger, loop, engineOpts...)
	}

	// The destination side keeps its own ledger for wrapped tokens
	dstLedger := custody.NewLedger()
	recv := receiver.New(receiver.Config{
		Transport:     loop.Address(),
		OriginNetwork: cfg.NetworkID,
		Origin:        cfg.EngineAddress,
	}, appLogger, receiver.WithAction(receiver.MintAction{Ledger: dstLedger}), receiver.WithSink(events))
	loop.Register(cfg.DestinationNetworkID, recv)

	go relay(ctx, loop, appLogger)

	var sol *solver.Solver
	if cfg.Solver.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.Solver.PrivateKey)
		if err != nil {
			log.Fatalf("Failed to parse solver key: %v", err)
		}
		sol = solver.New(solver.Config{
			Address:         crypto.PubkeyToAddress(key.PublicKey),
			Margin:          cfg.Solver.Margin,
			MaxFill:         cfg.Solver.MaxFill,
			PollingInterval: cfg.Solver.PollingInterval,
			MaxRetries:      cfg.Solver.MaxRetries,
			CircuitBreaker: circuitbreaker.Config{
				Enabled:       cfg.Solver.CircuitBreaker.Enabled,
				Threshold:     cfg.Solver.CircuitBreaker.Threshold,
				FailureWindow: cfg.Solver.CircuitBreaker.WindowDuration,
				ResetTimeout:  cfg.Solver.CircuitBreaker.ResetTimeout,
			},
		}, engine, appLogger)
		go sol.Run(ctx)
	}

	var solverStatus health.Solver
	if sol != nil {
		solverStatus = sol
	}
	// makers fund custody and submit intents and bids through the API
	server := health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, engine, solverStatus, appLogger,
		health.WithCustody(ledger, cfg.EngineAddress))
	if cfg.MetricsAPIKey == "" {
		appLogger.Notice("METRICS_API_KEY is unset, intent and bid ingress is disabled")
	}
	go func() {
		if err := server.Start(); err != nil {
			appLogger.Error("Health server failed: %v", err)
			cancel()
		}
	}()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	if !chains.IsKnown(cfg.DestinationNetworkID) {
		appLogger.Notice("Destination network %d is unknown, using gas budget %d", cfg.DestinationNetworkID, cfg.DefaultDestinationGas)
	}
	appLogger.Info("Settlement engine %s serving %s -> %s",
		cfg.EngineAddress.Hex(), networkLabel(cfg.NetworkID), networkLabel(cfg.DestinationNetworkID))
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Health server shutdown: %v", err)
	}
}

// relay drains the loopback queue into the registered receivers
func relay(ctx context.Context, loop *transport.Loopback, l logger.Logger) {
	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := loop.Relay(ctx)
			if err != nil && ctx.Err() == nil {
				l.Error("Relay failed after %d deliveries: %v", n, err)
			}
		}
	}
}

func networkLabel(id uint64) string {
	if name := chains.GetNetworkName(id); name != "" {
		return name
	}
	return "network " + strconv.FormatUint(id, 10)
}
