package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the credit service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Credit accounting metrics
	ConsumeTotal        *prometheus.CounterVec // outcome: charged|insufficient|inactive|conflict|error
	ConsumeDuration     *prometheus.HistogramVec
	CreditsChargedTotal *prometheus.CounterVec // per action
	BalanceRemaining    *prometheus.GaugeVec   // last observed remaining per plan

	// Gate metrics
	GateDecisionsTotal   *prometheus.CounterVec // decision: allowed|rejected|exempt|unauthorized
	GateChargeFailures   prometheus.Counter     // consume failed after a successful feature call
	GateFeatureDuration  *prometheus.HistogramVec

	// Reconciliation metrics
	SyncTotal           *prometheus.CounterVec // result: in_sync|updated|failed
	DivergenceDetected  *prometheus.CounterVec // issue kind
	RecoveryTotal       *prometheus.CounterVec // source: billing_source|ledger|none
	BillingSourceErrors prometheus.Counter

	// Cache metrics
	BalanceCacheHits   prometheus.Counter
	BalanceCacheMisses prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ConsumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_consume_total",
				Help: "Total number of credit consume attempts by outcome",
			},
			[]string{"action", "outcome"},
		),
		ConsumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditd_consume_duration_seconds",
				Help:    "Credit consume duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		CreditsChargedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_credits_charged_total",
				Help: "Total credits charged per action",
			},
			[]string{"action"},
		),
		BalanceRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "creditd_balance_remaining",
				Help: "Last observed remaining credits per plan tier",
			},
			[]string{"plan"},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_gate_decisions_total",
				Help: "Request gate decisions by action and decision",
			},
			[]string{"action", "decision"},
		),
		GateChargeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditd_gate_charge_failures_total",
				Help: "Consume failures after the wrapped feature already succeeded",
			},
		),
		GateFeatureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditd_gate_feature_duration_seconds",
				Help:    "Wrapped feature handler duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_reconcile_sync_total",
				Help: "Reconciliation sync attempts by result",
			},
			[]string{"result"},
		),
		DivergenceDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_reconcile_divergence_total",
				Help: "Detected ledger/billing-source divergences by issue kind",
			},
			[]string{"issue"},
		),
		RecoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditd_reconcile_recovery_total",
				Help: "Emergency recovery attempts by winning source",
			},
			[]string{"source"},
		),
		BillingSourceErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditd_billing_source_errors_total",
				Help: "Errors talking to the external billing source",
			},
		),

		BalanceCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditd_balance_cache_hits_total",
				Help: "Balance cache hits",
			},
		),
		BalanceCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditd_balance_cache_misses_total",
				Help: "Balance cache misses",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditd_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditd_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConsumeTotal,
		m.ConsumeDuration,
		m.CreditsChargedTotal,
		m.BalanceRemaining,
		m.GateDecisionsTotal,
		m.GateChargeFailures,
		m.GateFeatureDuration,
		m.SyncTotal,
		m.DivergenceDetected,
		m.RecoveryTotal,
		m.BillingSourceErrors,
		m.BalanceCacheHits,
		m.BalanceCacheMisses,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an http.Handler with request count and duration metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
