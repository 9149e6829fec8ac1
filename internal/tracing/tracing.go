// Package tracing initializes OpenTelemetry for midas processes and wraps
// the span helpers used around jobs and consumed messages.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/piukhq/midas-sub000"

// Setup installs a global tracer provider exporting over OTLP gRPC.
// It reads OTEL_EXPORTER_OTLP_ENDPOINT; when unset the global no-op
// provider is left in place. Returns a shutdown function.
func Setup(serviceName string) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() { _ = tp.Shutdown(context.Background()) }, nil
}

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// StartConsumerSpan starts a span for a unit of work pulled from a queue or bus.
func StartConsumerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Attribute helpers.
func SchemeAccountID(id int64) attribute.KeyValue {
	return attribute.Int64("midas.scheme_account_id", id)
}

func Scheme(slug string) attribute.KeyValue {
	return attribute.String("midas.scheme", slug)
}

func JobType(t string) attribute.KeyValue {
	return attribute.String("midas.job_type", t)
}

func Attempts(n int) attribute.KeyValue {
	return attribute.Int("midas.attempts", n)
}
