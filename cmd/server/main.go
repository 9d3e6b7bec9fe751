package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/metrics"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/eastern-cyber/planpay/service/server"
	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
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

	// Prometheus metrics collector, served on /metrics.
	metricsCollector := metrics.NewMetrics(nil)

	// Exchange rate poller for quote previews. Workflow activities fetch
	// rates on their own; the HTTP layer serves the cached observation.
	rateProvider, err := rate.NewProvider(cfg.RateFeeds, cfg.RateBuffer, cfg.RateFallback, logger, metricsCollector)
	if err != nil {
		logger.Error("failed to create rate provider", "error", err)
		os.Exit(1)
	}
	ratePoller := rate.NewPoller(rateProvider, cfg.RateRefreshInterval, logger)
	ratePoller.Start(ctx)
	defer ratePoller.Stop()
	logger.Info("exchange rate poller started",
		"feeds", len(cfg.RateFeeds),
		"refresh_interval", cfg.RateRefreshInterval,
	)

	// Temporal client for starting and signalling purchase workflows.
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
	logger.Info("connected to temporal",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
	)

	// SSE publisher for purchase event streaming. The server runs without
	// streaming if NATS is unreachable.
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("failed to create SSE publisher, streaming disabled", "error", err)
			ssePublisher = nil
		}
	}

	httpServer := server.New(cfg.ServerAddr, cfg, store, temporalClient, ratePoller, ssePublisher, metricsCollector, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
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
