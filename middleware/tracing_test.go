package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/saicgr/AIFitnessCoach-sub010/id"
	mw "github.com/saicgr/AIFitnessCoach-sub010/middleware"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")
	return sr, tracer
}

func newTestMutation() *mutation.Mutation {
	return &mutation.Mutation{
		ID:         id.NewMutationID(),
		EntityType: mutation.EntityWorkout,
		EntityID:   "workout-42",
		Operation:  mutation.OpUpdate,
		RetryCount: 2,
		UserID:     "usr_123",
	}
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	mut := newTestMutation()

	err := m(context.Background(), mut, func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "fitsync.mutation.apply" {
		t.Errorf("expected span name %q, got %q", "fitsync.mutation.apply", spans[0].Name())
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	mut := newTestMutation()

	_ = m(context.Background(), mut, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := spans[0].Attributes()
	expected := map[string]interface{}{
		"fitsync.mutation.id":  mut.ID.String(),
		"fitsync.entity_type":  "workout",
		"fitsync.entity_id":    "workout-42",
		"fitsync.operation":    "update",
		"fitsync.retry_count":  int64(2),
		"fitsync.user_id":      "usr_123",
	}

	attrMap := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		switch a.Value.Type() {
		case attribute.STRING:
			attrMap[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrMap[string(a.Key)] = a.Value.AsInt64()
		}
	}

	for key, want := range expected {
		got, ok := attrMap[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
}

func TestTracing_Success_SetsOkStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	mut := newTestMutation()

	_ = m(context.Background(), mut, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	mut := newTestMutation()

	applyErr := errors.New("remote rejected")
	err := m(context.Background(), mut, func(_ context.Context) error {
		return applyErr
	})
	if !errors.Is(err, applyErr) {
		t.Fatalf("expected applier error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "remote rejected" {
		t.Errorf("expected status description %q, got %q", "remote rejected", spans[0].Status().Description)
	}

	// Verify error event was recorded.
	events := spans[0].Events()
	found := false
	for _, ev := range events {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	mut := newTestMutation()

	var applierSpanCtx trace.SpanContext
	_ = m(context.Background(), mut, func(ctx context.Context) error {
		applierSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	// The applier should have received the span context from the middleware.
	if !applierSpanCtx.IsValid() {
		t.Error("expected valid span context in applier, got invalid")
	}
	if applierSpanCtx.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("applier span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	// Calling Tracing() without a global provider should not panic.
	m := mw.Tracing()
	mut := newTestMutation()

	called := false
	err := m(context.Background(), mut, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("applier was not called")
	}
}
