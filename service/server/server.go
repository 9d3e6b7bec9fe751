package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/db"
	"github.com/eastern-cyber/planpay/service/metrics"
	"github.com/eastern-cyber/planpay/service/payment"
	"github.com/eastern-cyber/planpay/service/rate"
	"github.com/eastern-cyber/planpay/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the plan purchase service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	purchases    PurchaseClient
	ratePoller   *rate.Poller
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The purchases client starts and drives purchase workflows.
// The ratePoller serves quote previews; the workflow fetches its own rate.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, purchases PurchaseClient, ratePoller *rate.Poller, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		purchases:    purchases,
		ratePoller:   ratePoller,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// instrument records request metrics under a constant handler label.
	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Member routes
	mux.Handle("POST /api/v1/members", instrument("/api/v1/members", handleCreateMember(s.store, s.logger)))
	mux.Handle("GET /api/v1/members/{wallet_address}", instrument("/api/v1/members/{wallet_address}", handleGetMember(s.store, s.logger)))
	mux.Handle("GET /api/v1/members", instrument("/api/v1/members", handleListMembers(s.store, s.logger)))
	mux.Handle("DELETE /api/v1/members/{wallet_address}", instrument("/api/v1/members/{wallet_address}", handleDeleteMember(s.store, s.logger)))
	mux.Handle("POST /api/v1/members/{wallet_address}/plans", instrument("/api/v1/members/{wallet_address}/plans", handleRecordPlan(s.store, s.logger)))

	// Purchase routes
	mux.Handle("GET /api/v1/rate", instrument("/api/v1/rate", handleGetRate(s.ratePoller, s.logger)))
	mux.Handle("GET /api/v1/quote", instrument("/api/v1/quote", handleQuote(s.store, s.ratePoller, s.cfg, s.logger)))
	mux.Handle("POST /api/v1/purchases", instrument("/api/v1/purchases", handleStartPurchase(s.store, s.purchases, s.ratePoller, s.cfg, s.logger)))
	mux.Handle("POST /api/v1/purchases/{purchase_id}/confirm", instrument("/api/v1/purchases/{purchase_id}/confirm", handleConfirmPurchase(s.purchases, s.logger)))
	mux.Handle("POST /api/v1/purchases/{purchase_id}/cancel", instrument("/api/v1/purchases/{purchase_id}/cancel", handleCancelPurchase(s.purchases, s.logger)))
	mux.Handle("GET /api/v1/purchases/{purchase_id}", instrument("/api/v1/purchases/{purchase_id}", handleGetPurchase(s.store, s.purchases, s.logger)))

	// Settled plan and bonus ledger routes
	mux.Handle("GET /api/v1/plans", instrument("/api/v1/plans", handleListPlans(s.store, s.logger)))
	mux.Handle("GET /api/v1/members/{wallet_address}/bonuses", instrument("/api/v1/members/{wallet_address}/bonuses", handleGetBonuses(s.store, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/purchases/{wallet_address}", handleStreamPurchases(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/purchases", handleStreamPurchases(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// RateSource serves the cached exchange rate for quote previews.
// *rate.Poller satisfies it.
type RateSource interface {
	Latest() rate.Rate
}

// PurchaseClient is the slice of the Temporal client the HTTP layer uses to
// drive purchase workflows. *temporal.Client satisfies it.
type PurchaseClient interface {
	StartPurchase(ctx context.Context, input temporal.PlanPurchaseInput) (string, error)
	ConfirmPurchase(ctx context.Context, purchaseID string) error
	CancelPurchase(ctx context.Context, purchaseID string) error
	PurchaseStatus(ctx context.Context, purchaseID string) (*payment.PurchaseState, error)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
