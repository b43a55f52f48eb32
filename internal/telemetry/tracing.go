package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the tracer provider. An empty Endpoint yields a
// tracer that still records spans (so turn/tool/step instrumentation is
// exercised) but never exports them off-box.
type TraceConfig struct {
	ServiceName string
	Endpoint    string
}

// Tracer wraps an OpenTelemetry tracer. The shutdown func for its
// provider is returned separately by NewTracer.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a TracerProvider for cfg and installs it globally.
// When cfg.Endpoint is empty, spans are recorded but exported nowhere;
// this keeps otel.Tracer/sdktrace wired without requiring a live
// collector (grounded on internal/observability/tracing.go's
// OTLP-gRPC exporter, behind a no-op default here).
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	var opts []sdktrace.TracerProviderOption

	if cfg.Endpoint != "" {
		client := otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	name := cfg.ServiceName
	if name == "" {
		name = "nexuscore"
	}
	return &Tracer{tracer: provider.Tracer(name)}, provider.Shutdown, nil
}

// Start begins a span named name.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}
