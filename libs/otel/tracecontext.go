package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// Stored rows always carry W3C trace context, whatever the global propagator is.
var w3c = propagation.TraceContext{}

// TraceContextStrings captures the span context of ctx as traceparent and
// tracestate values, suitable for persisting next to a row.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// ContextWithTraceContext restores a span context captured by TraceContextStrings.
func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": traceparent}
	if tracestate != "" {
		carrier.Set("tracestate", tracestate)
	}
	return w3c.Extract(ctx, carrier)
}
