package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
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

const scopeName = "statsgallery.sponsorship"

// Config describes where telemetry goes and how much of it to keep.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // collector gRPC endpoint, host:port
	SampleRate     float64       // trace sampling ratio in [0,1]
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool          // when false, everything is a no-op
	Insecure       bool          // plaintext gRPC, dev collectors only
}

// DefaultConfig samples everything and points at a local collector,
// which is what development wants; production overrides per env.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "sponsord",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// redInstruments bundles the RED (Rate, Errors, Duration) instruments
// plus an in-flight gauge. All fields are nil when telemetry is off;
// the record helpers treat nil as a no-op.
type redInstruments struct {
	requests metric.Int64Counter
	errCount metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newREDInstruments(meter metric.Meter) (redInstruments, error) {
	var (
		ins redInstruments
		err error
	)
	if ins.requests, err = meter.Int64Counter("sponsorship.requests.total",
		metric.WithDescription("Operations started"),
		metric.WithUnit("{request}"),
	); err != nil {
		return ins, err
	}
	if ins.errCount, err = meter.Int64Counter("sponsorship.errors.total",
		metric.WithDescription("Operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return ins, err
	}
	if ins.latency, err = meter.Float64Histogram("sponsorship.request.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return ins, err
	}
	if ins.inFlight, err = meter.Int64UpDownCounter("sponsorship.operations.active",
		metric.WithDescription("Operations currently running"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return ins, err
	}
	return ins, nil
}

// Provider owns the tracer and meter providers for the process. A
// disabled Provider is fully usable; spans and metric records just go
// nowhere.
type Provider struct {
	cfg    *Config
	traces *sdktrace.TracerProvider
	meters *sdkmetric.MeterProvider
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger
	red    redInstruments
}

// New builds the provider and installs it as the process-global OTel
// provider pair.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		cfg:    cfg,
		logger: slog.Default().With("component", "telemetry"),
	}
	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled, spans and metrics will be discarded")
		return p, nil
	}

	res, err := newServiceResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	if p.traces, err = newTraceProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("trace provider: %w", err)
	}
	if p.meters, err = newMeterProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("meter provider: %w", err)
	}

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.meters)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if p.red, err = newREDInstruments(p.meter); err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry pipeline up",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func newServiceResource(cfg *Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
}

func newTraceProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	), nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
	), nil
}

// Shutdown flushes and stops both providers. Exporter errors are logged,
// not returned; shutdown proceeds regardless.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown", "error", err)
		}
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(scopeName)
	}
	return p.meter
}

// StartSpan opens a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRequest counts one operation start.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.red.requests != nil {
		p.red.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError counts one failed operation, tagging the Go error type.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.red.errCount != nil {
		attrs = append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.red.errCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDuration records one operation latency.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.red.latency != nil {
		p.red.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackOperation opens a span and bumps the request and in-flight
// counters. The caller invokes the returned finish func with the
// operation's error (nil on success) to close the span and record
// duration and any error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.red.inFlight != nil {
		p.red.inFlight.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordRequest(ctx, attrs...)

	return ctx, func(err error) {
		if p.red.inFlight != nil {
			p.red.inFlight.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordDuration(ctx, time.Since(start), attrs...)
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, attrs...)
		}
		span.End()
	}
}

// statusWriter captures the response status for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP requests: one span per request plus RED
// metrics. Statuses of 500 and above count as errors.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, finish := p.TrackOperation(r.Context(), "http "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		var err error
		if sw.status >= 500 {
			err = fmt.Errorf("request failed with status %d", sw.status)
		}
		finish(err)
	})
}
