package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// meterName is the instrumentation scope name for fitsync metrics.
const meterName = "github.com/saicgr/AIFitnessCoach-sub010"

// Metrics returns middleware that records per-mutation apply metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - fitsync.mutation.apply.duration (Float64Histogram): apply time in
//     seconds, with attributes: entity_type, operation, status ("ok" or "error")
//   - fitsync.mutation.applies (Int64Counter): total apply attempts,
//     with attributes: entity_type, operation, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"fitsync.mutation.apply.duration",
		metric.WithDescription("Duration of mutation application in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	applies, aErr := meter.Int64Counter(
		"fitsync.mutation.applies",
		metric.WithDescription("Total number of mutation apply attempts"),
		metric.WithUnit("{apply}"),
	)
	_ = aErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("entity_type", string(m.EntityType)),
			attribute.String("operation", string(m.Operation)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		applies.Add(ctx, 1, attrs)

		return err
	}
}
