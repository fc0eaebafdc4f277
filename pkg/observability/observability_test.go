package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "web-scraper-gateway", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should be usable without export configured.
	ctx, done := p.TrackOperation(context.Background(), "extract", attribute.String("tier", "free"))
	require.NotNil(t, ctx)
	done(nil)

	_, done = p.TrackOperation(context.Background(), "attest")
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")

	m.RecordGateDecision(TierFree)
	m.RecordGateDecision(TierFree)
	m.RecordGateDecision(TierPayable)
	m.RecordAttestation(AttestationIssued)
	m.RecordUpstreamError(502)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues(TierFree)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues(TierPayable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attestations.WithLabelValues(AttestationIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamErrors.WithLabelValues("502")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGateDecision(TierFree)
		m.RecordAttestation(AttestationFailed)
		m.RecordUpstreamError(503)
	})
}

func TestMetrics_HTTPMiddlewareAndHandler(t *testing.T) {
	m := NewMetrics("test")
	h := m.HTTPMiddleware("/v1/extract", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/v1/extract", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/extract", "402")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "test_http_requests_total")
}

func TestConfigForEndpoint(t *testing.T) {
	assert.False(t, ConfigForEndpoint("").Enabled)

	local := ConfigForEndpoint("localhost:4317")
	assert.True(t, local.Enabled)
	assert.True(t, local.Insecure)

	remote := ConfigForEndpoint("otel.example.com:4317")
	assert.True(t, remote.Enabled)
	assert.False(t, remote.Insecure)
	assert.Equal(t, "otel.example.com:4317", remote.OTLPEndpoint)
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", samplerFor(1).Description())
	assert.Equal(t, "AlwaysOffSampler", samplerFor(0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}
