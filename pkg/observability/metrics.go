package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gate
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entitlement decision metrics
	DecisionsTotal    *prometheus.CounterVec
	DecisionDuration  *prometheus.HistogramVec
	DecisionCacheHits *prometheus.CounterVec

	// Guard metrics
	GuardOutcomesTotal *prometheus.CounterVec

	// Tenant resolution metrics
	ResolutionsTotal     *prometheus.CounterVec
	ResolutionDuration   *prometheus.HistogramVec
	PollingTicksTotal    prometheus.Counter
	PollingFetchErrors   prometheus.Counter
	ActivePollingLoops   prometheus.Gauge
	TenantSwitchesTotal  prometheus.Counter

	// Session metrics
	SessionEventsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_decisions_total",
				Help: "Total number of entitlement decisions",
			},
			[]string{"module", "action", "allowed", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_decision_duration_seconds",
				Help:    "Entitlement decision duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .01, .1},
			},
			[]string{"module"},
		),
		DecisionCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_decision_cache_total",
				Help: "Decision cache lookups by result",
			},
			[]string{"result"},
		),

		GuardOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_guard_outcomes_total",
				Help: "Route guard outcomes",
			},
			[]string{"outcome", "target"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_tenant_resolutions_total",
				Help: "Tenant resolution attempts by terminal state",
			},
			[]string{"state"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_tenant_resolution_duration_seconds",
				Help:    "Time from resolution start to a terminal state",
				Buckets: []float64{.01, .1, .5, 1, 2, 4, 8, 15, 16},
			},
			[]string{"state"},
		),
		PollingTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_polling_ticks_total",
				Help: "Total membership polling ticks",
			},
		),
		PollingFetchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_polling_fetch_errors_total",
				Help: "Membership fetch errors swallowed during polling",
			},
		),
		ActivePollingLoops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_active_polling_loops",
				Help: "Number of polling loops currently running",
			},
		),
		TenantSwitchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_tenant_switches_total",
				Help: "Total tenant switch operations that swapped the snapshot",
			},
		),

		SessionEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_session_events_total",
				Help: "Identity session lifecycle events",
			},
			[]string{"event"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.DecisionCacheHits,
		m.GuardOutcomesTotal,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.PollingTicksTotal,
		m.PollingFetchErrors,
		m.ActivePollingLoops,
		m.TenantSwitchesTotal,
		m.SessionEventsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records a single entitlement decision
func (m *Metrics) ObserveDecision(module, action string, allowed bool, reason string, duration time.Duration) {
	m.DecisionsTotal.WithLabelValues(module, action, strconv.FormatBool(allowed), reason).Inc()
	m.DecisionDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// ObserveGuardOutcome records a route guard outcome
func (m *Metrics) ObserveGuardOutcome(outcome, target string) {
	m.GuardOutcomesTotal.WithLabelValues(outcome, target).Inc()
}

// ObserveResolution records a terminal tenant resolution
func (m *Metrics) ObserveResolution(state string, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(state).Inc()
	m.ResolutionDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// HTTPMiddleware instruments an HTTP handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
