package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. The Record
// helpers are nil-safe: a component built without metrics records nothing.
type Metrics struct {
	// Exchange Rate Metrics
	rateFetchesTotal  *prometheus.CounterVec
	rateFetchDuration *prometheus.HistogramVec
	rateFallbackTotal prometheus.Counter
	currentRate       *prometheus.GaugeVec

	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Transfer Metrics
	transfersSubmittedTotal *prometheus.CounterVec
	transferDuration        *prometheus.HistogramVec
	transferErrorsTotal     *prometheus.CounterVec

	// Purchase Workflow Metrics
	purchaseWorkflowDuration *prometheus.HistogramVec
	purchaseWorkflowsTotal   *prometheus.CounterVec
	purchaseStepsTotal       *prometheus.CounterVec
	purchaseActivityDuration *prometheus.HistogramVec

	// Audit Metrics
	auditPinsTotal   *prometheus.CounterVec
	auditPinDuration prometheus.Histogram

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Exchange Rate Metrics
		rateFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_fetches_total",
				Help: "Total number of exchange rate fetch attempts by feed and status",
			},
			[]string{"feed", "status"},
		),
		rateFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_fetch_duration_seconds",
				Help:    "Duration of exchange rate feed requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"feed"},
		),
		rateFallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_fallback_total",
				Help: "Total number of times the constant fallback rate was used",
			},
		),
		currentRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "current_exchange_rate",
				Help: "Most recently observed token exchange rate",
			},
			[]string{"kind"},
		),

		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		// Transfer Metrics
		transfersSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_submitted_total",
				Help: "Total number of token transfer submissions by purpose and status",
			},
			[]string{"purpose", "status"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_duration_seconds",
				Help:    "Duration of token transfer submissions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"purpose"},
		),
		transferErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_errors_total",
				Help: "Total number of failed transfers by error category",
			},
			[]string{"purpose", "category"},
		),

		// Purchase Workflow Metrics
		purchaseWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_workflow_duration_seconds",
				Help:    "Duration of purchase workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800},
			},
			[]string{"plan_id", "status"},
		),
		purchaseWorkflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_workflows_total",
				Help: "Total number of purchase workflow executions",
			},
			[]string{"plan_id", "status"},
		),
		purchaseStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_steps_total",
				Help: "Total number of purchase step outcomes",
			},
			[]string{"step", "status"},
		),
		purchaseActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_activity_duration_seconds",
				Help:    "Duration of purchase workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Audit Metrics
		auditPinsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_pins_total",
				Help: "Total number of audit report pin attempts",
			},
			[]string{"status"},
		),
		auditPinDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audit_pin_duration_seconds",
				Help:    "Duration of audit report pin requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet_address", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Exchange rate metric helpers

// RecordRateFetch records a rate feed fetch attempt with duration.
func (m *Metrics) RecordRateFetch(feed, status string, duration float64) {
	if m == nil {
		return
	}
	m.rateFetchesTotal.WithLabelValues(feed, status).Inc()
	m.rateFetchDuration.WithLabelValues(feed).Observe(duration)
}

// RecordRateFallback records use of the constant fallback rate.
func (m *Metrics) RecordRateFallback() {
	if m == nil {
		return
	}
	m.rateFallbackTotal.Inc()
}

// RecordCurrentRate records the latest raw and adjusted rates.
func (m *Metrics) RecordCurrentRate(raw, adjusted float64) {
	if m == nil {
		return
	}
	m.currentRate.WithLabelValues("raw").Set(raw)
	m.currentRate.WithLabelValues("adjusted").Set(adjusted)
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// Transfer metric helpers

// RecordTransfer records a transfer submission with duration.
func (m *Metrics) RecordTransfer(purpose, status string, duration float64) {
	if m == nil {
		return
	}
	m.transfersSubmittedTotal.WithLabelValues(purpose, status).Inc()
	m.transferDuration.WithLabelValues(purpose).Observe(duration)
}

// RecordTransferError records a failed transfer by error category.
func (m *Metrics) RecordTransferError(purpose, category string) {
	if m == nil {
		return
	}
	m.transferErrorsTotal.WithLabelValues(purpose, category).Inc()
}

// Purchase workflow metric helpers

// RecordWorkflowDuration records purchase workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(planID, status string, duration float64) {
	if m == nil {
		return
	}
	m.purchaseWorkflowDuration.WithLabelValues(planID, status).Observe(duration)
	m.purchaseWorkflowsTotal.WithLabelValues(planID, status).Inc()
}

// RecordPurchaseStep records the outcome of one purchase step.
func (m *Metrics) RecordPurchaseStep(step, status string) {
	if m == nil {
		return
	}
	m.purchaseStepsTotal.WithLabelValues(step, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.purchaseActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Audit metric helpers

// RecordAuditPin records an audit report pin attempt with duration.
func (m *Metrics) RecordAuditPin(status string, duration float64) {
	if m == nil {
		return
	}
	m.auditPinsTotal.WithLabelValues(status).Inc()
	m.auditPinDuration.Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
