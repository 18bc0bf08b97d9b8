package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Giskard spans.
var (
	AttrSessionID  = attribute.Key("giskard.session.id")
	AttrTraceID    = attribute.Key("giskard.trace.id")
	AttrStepType   = attribute.Key("giskard.step.type")
	AttrActionName = attribute.Key("giskard.action.name")
	AttrTaskID     = attribute.Key("giskard.task.id")
	AttrModel      = attribute.Key("giskard.llm.model")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
