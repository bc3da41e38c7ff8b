// Package telemetry configures OpenTelemetry tracing for provider calls.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds tracing settings.
type Config struct {
	ServiceName    string  `envconfig:"SERVICE_NAME" default:"vecbench"`
	ServiceVersion string  `envconfig:"SERVICE_VERSION" default:"dev"`
	Endpoint       string  `envconfig:"OTLP_ENDPOINT"` // e.g. "localhost:4317"
	UseStdout      bool    `envconfig:"TRACE_STDOUT" default:"false"`
	SampleRatio    float64 `envconfig:"TRACE_SAMPLE_RATIO" default:"1.0"`

	// Output receives stdout spans. Defaults to os.Stdout.
	Output io.Writer `ignored:"true"`
}

// Enabled reports whether cfg selects an exporter.
func (c Config) Enabled() bool {
	return c.UseStdout || c.Endpoint != ""
}

// Provider owns the tracer provider for one process.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// InitTracerProvider builds a tracer provider and installs it as the global
// one. With no exporter configured it returns a no-op Provider.
func InitTracerProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.UseStdout {
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		exporter, err = stdouttrace.New(opts...)
	} else {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.tp != nil }

// Tracer returns a named tracer, a no-op one when tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
