// Package tracing sets up OpenTelemetry and provides span helpers for poll
// cycles and remote service calls.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/bulkq/internal/model"
)

const tracerName = "bulkq"

// Config configures the OTLP exporter.
type Config struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP. With
// no endpoint it returns nil and the global no-op provider stays in place.
func InitTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ExportEndpoint == "" {
		return nil, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.ExportEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = tracerName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func scopeAttrs(s model.Scope) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("bulkq.kind", string(s.Kind)),
		attribute.String("bulkq.region", s.Region),
		attribute.String("bulkq.account_id", s.AccountID),
	}
}

// StartCycleSpan starts the span covering one poll cycle of a scope.
func StartCycleSpan(ctx context.Context, s model.Scope) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "poll.cycle",
		trace.WithAttributes(scopeAttrs(s)...),
	)
}

// StartRemoteSpan starts a client span around a remote service operation.
func StartRemoteSpan(ctx context.Context, op string, s model.Scope) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(scopeAttrs(s)...),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
