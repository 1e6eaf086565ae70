package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Authorization and session metrics
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Policy decisions by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	moduleGateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "module_gate_checks_total",
			Help: "Module gate evaluations by result (active, inactive, error).",
		},
		[]string{"result"},
	)

	tenantResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Tenant resolutions by source (claim, host) and result.",
		},
		[]string{"source", "result"},
	)

	refreshRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_rotations_total",
			Help: "Refresh session rotations by outcome.",
		},
		[]string{"outcome"},
	)

	refreshReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refresh_reuse_detected_total",
		Help: "Presentations of replaced or revoked refresh secrets.",
	})

	registerOnce sync.Once
)

// RegisterMetrics registers every collector in the default registry. Safe to call repeatedly.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, moduleGateChecks, tenantResolutions,
			refreshRotations, refreshReuse,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveDecision(allowed bool, reason string) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(outcome, reason).Inc()
}

func ObserveModuleGate(result string)             { moduleGateChecks.WithLabelValues(result).Inc() }
func ObserveTenantResolution(source, result string) { tenantResolutions.WithLabelValues(source, result).Inc() }
func ObserveRotation(outcome string)               { refreshRotations.WithLabelValues(outcome).Inc() }
func ObserveReuse()                                { refreshReuse.Inc() }

// Instrument measures in-flight requests, totals and latency per route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RouteLabel(r)
		status := strconv.Itoa(sw.Code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RouteLabel returns the matched chi pattern so path parameters do not explode label cardinality.
func RouteLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// StatusWriter remembers the response code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}
