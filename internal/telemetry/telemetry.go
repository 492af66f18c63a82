// Package telemetry configures OpenTelemetry trace export over OTLP/HTTP.
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
)

// Config mirrors the telemetry section of the runtime config.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP/HTTP collector, e.g. "localhost:4318"
	ServiceName string
	Insecure    bool
}

// Tracer wraps the configured tracer; disabled configs yield a no-op.
type Tracer struct {
	tracer trace.Tracer
}

// Setup initialises the global tracer provider. The returned shutdown
// function flushes pending spans; call it on exit.
func Setup(ctx context.Context, cfg Config) (*Tracer, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "osa"
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown, nil
}

// StartLLM opens a client span around a provider call.
func (t *Tracer) StartLLM(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm."+provider,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
}

// StartTool opens an internal span around a tool dispatch.
func (t *Tracer) StartTool(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool."+tool,
		trace.WithAttributes(attribute.String("tool.name", tool)))
}

// End finishes the span, recording err when set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
