package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name.
const defaultTracerName = "wsession"

// tracer wraps the OpenTelemetry tracer resolved from the global provider.
// With no provider configured the spans are no-ops.
type tracer struct {
	t trace.Tracer
}

func newTracer(name string) tracer {
	return tracer{t: otel.Tracer(name)}
}

func (tr tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tr.t.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func sessionAttr(id string) attribute.KeyValue {
	return attribute.String("wsession.session_id", id)
}
