package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const sessionTracerName = "threadrelay-session"

func sessionTracer() trace.Tracer {
	return Tracer(sessionTracerName)
}

// TraceTurn creates a span covering one assistant turn (prompt sent to
// result event received).
func TraceTurn(ctx context.Context, sessionID, threadID string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.turn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("thread_id", threadID),
	)
	return ctx, span
}

// TraceTurnResult records the outcome of a turn on its span.
func TraceTurnResult(span trace.Span, durationMS int64, costUSD float64, err error) {
	span.SetAttributes(
		attribute.Int64("turn.duration_ms", durationMS),
		attribute.Float64("turn.cost_usd", costUSD),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracePlatformCall creates a span for one platform port operation.
func TracePlatformCall(ctx context.Context, op, postID string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "platform."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	if postID != "" {
		span.SetAttributes(attribute.String("post_id", postID))
	}
	return ctx, span
}
