// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for the gateway.
//
// Spans and per-operation metrics go out over OTLP gRPC when an endpoint is
// configured. Business counters (gate decisions, attestations, upstream
// failures) are always collected in a Prometheus registry served on /metrics.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "web-scraper.gateway"

// Config configures export. Export is off unless Enabled is set.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of the collector
	SampleRate     float64 // fraction of root spans kept
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "web-scraper-gateway",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
	}
}

// ConfigForEndpoint enables export to endpoint. Loopback collectors are
// reached over plaintext gRPC.
func ConfigForEndpoint(endpoint string) *Config {
	cfg := DefaultConfig()
	if endpoint == "" {
		return cfg
	}
	cfg.Enabled = true
	cfg.OTLPEndpoint = endpoint
	cfg.Insecure = strings.HasPrefix(endpoint, "localhost") || strings.HasPrefix(endpoint, "127.0.0.1")
	return cfg
}

// opInstruments are the per-operation counters and latency histogram.
type opInstruments struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newOpInstruments(m metric.Meter) (*opInstruments, error) {
	calls, err := m.Int64Counter("gateway.operations.total",
		metric.WithDescription("Gateway operations started"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter("gateway.errors.total",
		metric.WithDescription("Gateway operations that returned an error"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("gateway.operation.duration",
		metric.WithDescription("Gateway operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	if err != nil {
		return nil, err
	}
	return &opInstruments{calls: calls, failures: failures, latency: latency}, nil
}

// Provider owns the tracer and meter providers. A disabled Provider traces
// through the global no-op implementation.
type Provider struct {
	config  *Config
	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	tracer  trace.Tracer
	ops     *opInstruments
	logger  *slog.Logger
}

// New creates a provider. With Enabled=false nothing is exported.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		tracer: otel.Tracer(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.DebugContext(ctx, "telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	spanExp, err := otlptracegrpc.New(ctx, traceOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	p.tracers = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(config.SampleRate))),
	)
	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(p.tracers)
	otel.SetMeterProvider(p.meters)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	p.tracer = p.tracers.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	if p.ops, err = newOpInstruments(p.meters.Meter(instrumentationName)); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry export enabled",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func traceOptions(c *Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.OTLPEndpoint)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func metricOptions(c *Config) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.OTLPEndpoint)}
	if c.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracers != nil {
		errs = append(errs, p.tracers.Shutdown(ctx))
	}
	if p.meters != nil {
		errs = append(errs, p.meters.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// TrackOperation starts a span for name and counts the call. The returned
// func ends the span and must be called exactly once with the outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	set := metric.WithAttributes(append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)...)
	if p.ops != nil {
		p.ops.calls.Add(ctx, 1, set)
	}
	return ctx, func(err error) {
		if p.ops != nil {
			p.ops.latency.Record(ctx, time.Since(start).Seconds(), set)
			if err != nil {
				p.ops.failures.Add(ctx, 1, set)
			}
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
