package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// SpanContext is the W3C trace context of a span, flattened so it can be stored in a row.
type SpanContext struct {
	Traceparent string
	Tracestate  string
}

// Capture snapshots the trace context active in ctx; both fields are empty outside a span.
func Capture(ctx context.Context) SpanContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return SpanContext{Traceparent: carrier.Get("traceparent"), Tracestate: carrier.Get("tracestate")}
}

// Restore returns ctx continuing the captured trace, or ctx unchanged when nothing was captured.
func (sc SpanContext) Restore(ctx context.Context) context.Context {
	if sc.Traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": sc.Traceparent}
	if sc.Tracestate != "" {
		carrier["tracestate"] = sc.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
