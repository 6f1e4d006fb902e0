package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"scoped-memory-mcp/internal/config"
)

const instrumentationName = "scoped-memory-mcp"

// Tracer starts spans for tool calls and their pipeline stages
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses the given provider, or the global one when nil
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(instrumentationName)}
}

// Setup installs a global tracer provider exporting to the configured OTLP endpoint.
// Without an endpoint it returns a no-op shutdown and leaves the global provider alone.
func Setup(ctx context.Context, server config.ServerConfig, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(server.Name),
			semconv.ServiceVersion(server.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// StartTool opens the root span of a tool call
func (t *Tracer) StartTool(ctx context.Context, tool, correlationID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "Tool: "+tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mcp.tool.name", tool),
			attribute.String("mcp.correlation_id", correlationID),
		),
	)
}

// StartStage opens a child span for one pipeline stage
func (t *Tracer) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, stage, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed with code when err is non-nil
func End(span trace.Span, code string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("mcp.error_code", code))
		span.SetStatus(codes.Error, code)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
