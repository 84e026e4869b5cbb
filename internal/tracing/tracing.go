// Package tracing wraps the OpenTelemetry trace API for the orchestration
// core. It is grounded on kadirpekel-hector's pkg/observability/tracer.go
// (GetTracer(name) returning otel.Tracer(name) against whatever
// TracerProvider the embedding process configured globally), trimmed to the
// API surface this module actually uses: we never configure an exporter or
// SDK provider ourselves, that is the embedding host's job via
// otel.SetTracerProvider. Until the host does so, otel.Tracer defaults to a
// no-op provider, so every span start below is always safe to call.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span this package opens.
const tracerName = "github.com/teamforge/core"

// Tracer returns the process-wide tracer for the orchestration core.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named op, tagged with the given key/value attribute
// pairs (flattened: k0, v0, k1, v1, ...). Callers must defer the returned
// end func.
func StartSpan(ctx context.Context, op string, kv ...string) (context.Context, func()) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	ctx, span := Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}
