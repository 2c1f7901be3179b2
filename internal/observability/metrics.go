package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	reconcileRuns   *prometheus.CounterVec
	repaired        *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_movements_total",
		Help: "Stock movements appended to the ledger by type.",
	}, []string{"type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_duplicates_suppressed_total",
		Help: "Movement appends suppressed as idempotent duplicates.",
	}, []string{"type"})
	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_reconcile_runs_total",
		Help: "Reconciliation routine runs by routine and mode.",
	}, []string{"routine", "mode"})
	repaired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_reconcile_movements_repaired_total",
		Help: "Movements deleted or corrected per reconciliation routine.",
	}, []string{"routine"})
	registry.MustRegister(requests, duration, movements, duplicates, reconcileRuns, repaired)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		duplicates:      duplicates,
		reconcileRuns:   reconcileRuns,
		repaired:        repaired,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementAppended counts one successful ledger append.
func (m *Metrics) MovementAppended(movementType string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType).Inc()
}

// DuplicateSuppressed counts one idempotent skip.
func (m *Metrics) DuplicateSuppressed(movementType string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(movementType).Inc()
}

// RunCompleted counts one reconciliation routine run.
func (m *Metrics) RunCompleted(routine, mode string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(routine, mode).Inc()
}

// MovementsRepaired counts movements removed or corrected by a routine.
func (m *Metrics) MovementsRepaired(routine string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.repaired.WithLabelValues(routine).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
