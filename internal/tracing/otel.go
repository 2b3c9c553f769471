// Package tracing provides OpenTelemetry tracer provider setup.
package tracing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Provider owns the process tracer provider.
type Provider struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
	enabled    bool
	shutdownFn func(context.Context) error
}

// Option configures InitTracer.
type Option func(*options)

type options struct {
	out        io.Writer
	processors []sdktrace.SpanProcessor
}

// WithOutput directs the stdout exporter to w.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithSpanProcessor registers an extra span processor next to the exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// InitTracer builds a tracer provider from cfg and installs it globally.
// Disabled tracing installs a no-op provider.
func InitTracer(cfg config.TracingConfig, version string, logger *zap.Logger, opts ...Option) (*Provider, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled || cfg.Exporter == ExporterNone {
		logger.Info("OpenTelemetry tracing disabled")

		np := noop.NewTracerProvider()
		otel.SetTracerProvider(np)

		return &Provider{
			provider:   np,
			propagator: propagation.NewCompositeTextMapPropagator(),
			shutdownFn: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(cfg, o.out)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SampleRate)),
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	logger.Info("OpenTelemetry tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("exporter", cfg.Exporter),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Provider{
		provider:   tp,
		propagator: propagator,
		enabled:    true,
		shutdownFn: tp.Shutdown,
	}, nil
}

func createExporter(cfg config.TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		return otlptracegrpc.New(context.Background(), opts...)
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithWriter(out))
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.provider.Tracer(name)
}

// Middleware wraps handlers in a server span named "<method> <route>". The
// span continues a W3C traceparent sent by the client. A nil or disabled
// provider leaves handlers untouched.
func (p *Provider) Middleware(route string) func(http.Handler) http.Handler {
	if p == nil || !p.enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, route,
			otelhttp.WithTracerProvider(p.provider),
			otelhttp.WithPropagators(p.propagator),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + operation
			}),
		)
	}
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdownFn(ctx)
}
