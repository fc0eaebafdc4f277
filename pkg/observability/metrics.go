package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
// Each instance owns its registry so tests can build one per case.
type Metrics struct {
	Registry *prometheus.Registry

	gateDecisions  *prometheus.CounterVec
	attestations   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Freemium gate decisions by tier.",
		}, []string{"tier"}),
		attestations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attestation",
			Name:      "issued_total",
			Help:      "Attestation outcomes.",
		}, []string{"outcome"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "upstream_errors_total",
			Help:      "Extraction failures by upstream status code.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"method", "route"}),
	}
	m.Registry.MustRegister(m.gateDecisions, m.attestations, m.upstreamErrors, m.httpRequests, m.httpDuration)
	return m
}

// Tier labels for gate decisions.
const (
	TierFree    = "free"
	TierPayable = "payable"
)

// RecordGateDecision counts one freemium gate decision.
func (m *Metrics) RecordGateDecision(tier string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(tier).Inc()
}

// Attestation outcome labels.
const (
	AttestationIssued   = "issued"
	AttestationFailed   = "failed"
	AttestationDisabled = "disabled"
)

// RecordAttestation counts one attestation outcome.
func (m *Metrics) RecordAttestation(outcome string) {
	if m == nil {
		return
	}
	m.attestations.WithLabelValues(outcome).Inc()
}

// RecordUpstreamError counts one extraction failure.
func (m *Metrics) RecordUpstreamError(status int) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and durations under route.
func (m *Metrics) HTTPMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
