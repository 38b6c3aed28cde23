package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// tracerName is the instrumentation scope name for fitsync tracing.
const tracerName = "github.com/saicgr/AIFitnessCoach-sub010"

// Tracing returns middleware that wraps mutation application in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: fitsync.mutation.id, fitsync.entity_type,
// fitsync.entity_id, fitsync.operation, fitsync.retry_count,
// fitsync.user_id. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		ctx, span := tracer.Start(ctx, "fitsync.mutation.apply",
			trace.WithAttributes(
				attribute.String("fitsync.mutation.id", m.ID.String()),
				attribute.String("fitsync.entity_type", string(m.EntityType)),
				attribute.String("fitsync.entity_id", m.EntityID),
				attribute.String("fitsync.operation", string(m.Operation)),
				attribute.Int("fitsync.retry_count", m.RetryCount),
				attribute.String("fitsync.user_id", m.UserID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
