package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/piukhq/midas-sub000/internal/core"
)

// Observer adds a journey outcome event to the span in the context, if any.
type Observer struct{}

func event(ctx context.Context, journey, result string, o core.Outcome) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("midas.journey", journey),
		attribute.String("midas.outcome", result),
		SchemeAccountID(o.SchemeAccountID),
		Scheme(o.Scheme),
		Attempts(o.Attempts),
	}
	if o.Kind != "" {
		attrs = append(attrs, attribute.String("midas.error_kind", string(o.Kind)))
	}
	span.AddEvent("journey outcome", trace.WithAttributes(attrs...))
}

func (Observer) OnLoginSuccess(ctx context.Context, o core.Outcome) {
	event(ctx, "login", "success", o)
}

func (Observer) OnLoginFail(ctx context.Context, o core.Outcome) {
	event(ctx, "login", "fail", o)
}

func (Observer) OnJoinSuccess(ctx context.Context, o core.Outcome) {
	event(ctx, "join", "success", o)
}

func (Observer) OnJoinFail(ctx context.Context, o core.Outcome) {
	event(ctx, "join", "fail", o)
}
