package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Engine metrics. Labels stay low-cardinality: document kind and status names.
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Committed document status transitions.",
		},
		[]string{"kind", "from", "to"},
	)

	approvalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_approvals_total",
		Help: "Recorded report approvals (idempotent replays excluded).",
	})

	confidentialityDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confidentiality_decisions_total",
			Help: "Visibility decisions made by the confidentiality gate.",
		},
		[]string{"decision"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		transitionsTotal, approvalsTotal, confidentialityDecisions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveTransition records one committed status transition.
func ObserveTransition(kind, from, to string) {
	transitionsTotal.WithLabelValues(kind, from, to).Inc()
}

// ObserveApproval records one newly created approval.
func ObserveApproval() {
	approvalsTotal.Inc()
}

// ObserveConfidentialityDecision records an allow/deny outcome.
func ObserveConfidentialityDecision(allowed bool) {
	if allowed {
		confidentialityDecisions.WithLabelValues("allow").Inc()
		return
	}
	confidentialityDecisions.WithLabelValues("deny").Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses document identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/reports/", "/v1/directives/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return path
		}
		if len(parts) == 1 {
			return prefix + ":id"
		}
		switch parts[1] {
		case "transitions", "approvals", "revisions", "history", "sources", "forward", "children":
			return prefix + ":id/" + parts[1]
		}
		return path
	}
	return path
}

// statusWriter captures the response code written downstream.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
