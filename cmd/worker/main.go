package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eastern-cyber/planpay/service/audit"
	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/metrics"
	natspkg "github.com/eastern-cyber/planpay/service/nats"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/eastern-cyber/planpay/service/solana"
	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Prometheus metrics collector with its own HTTP server.
	metricsCollector := metrics.NewMetrics(nil)

	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Exchange rate provider. Activities fetch a fresh rate per purchase.
	rateProvider, err := rate.NewProvider(cfg.RateFeeds, cfg.RateBuffer, cfg.RateFallback, logger, metricsCollector)
	if err != nil {
		logger.Error("failed to create rate provider", "error", err)
		os.Exit(1)
	}

	// Solana RPC plumbing: balance reads, treasury transfers, and
	// reconciliation scans all share one RPC client.
	rpcClient := solana.NewRPCClient(cfg.SolanaRPCURL)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	balanceReader, err := solana.NewBalanceReader(rpcClient, cfg.TokenMintAddress, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create balance reader", "error", err)
		os.Exit(1)
	}

	treasuryKey, err := solana.LoadTreasuryKey(cfg.TreasuryKeyFile)
	if err != nil {
		logger.Error("failed to load treasury key", "path", cfg.TreasuryKeyFile, "error", err)
		os.Exit(1)
	}
	executor, err := solana.NewExecutor(rpcClient, treasuryKey, cfg.TokenMintAddress, cfg.TokenDecimals, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create transfer executor", "error", err)
		os.Exit(1)
	}

	scanner := solana.NewScanner(rpcClient, metricsCollector, logger)

	// Audit report pinner. Disabled when no pin endpoint is configured.
	pinner := audit.NewPinner(cfg.AuditPinURL, nil, metricsCollector, logger)
	if pinner.Enabled() {
		logger.Info("audit report pinning enabled", "pin_url", cfg.AuditPinURL)
	} else {
		logger.Info("audit report pinning disabled")
	}

	// NATS publisher for purchase lifecycle events.
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		Rates:             rateProvider,
		Balances:          balanceReader,
		Executor:          executor,
		Scanner:           scanner,
		Pinner:            pinner,
		Publisher:         natsPublisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Keep the treasury reconciliation schedule in place. The scheduled
	// workflow flags treasury outflows no settled plan accounts for.
	if cfg.TreasuryWallet != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()

		interval := getEnvDuration("RECONCILE_INTERVAL", time.Hour)
		err = temporalClient.UpsertReconcileSchedule(ctx, temporal.ReconcileTreasuryInput{
			TreasuryWallet: cfg.TreasuryWallet,
			Lookback:       2 * interval,
			Limit:          1000,
		}, interval)
		if err != nil {
			logger.Error("failed to upsert reconcile schedule", "error", err)
			os.Exit(1)
		}
		logger.Info("treasury reconciliation schedule in place",
			"wallet", cfg.TreasuryWallet,
			"interval", interval,
		)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
