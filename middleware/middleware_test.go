package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/middleware"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/scope"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *mutation.Mutation, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *mutation.Mutation, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	m := &mutation.Mutation{ID: id.NewMutationID(), EntityType: mutation.EntityWorkout}
	handler := func(_ context.Context) error {
		order = append(order, "applier")
		return nil
	}

	err := chain(context.Background(), m, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "applier", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &mutation.Mutation{ID: id.NewMutationID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("applier not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *mutation.Mutation, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("applier error")

	err := chain(context.Background(), &mutation.Mutation{ID: id.NewMutationID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	m := &mutation.Mutation{ID: id.NewMutationID(), EntityType: mutation.EntityWorkout}

	err := mw(context.Background(), m, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	m := &mutation.Mutation{ID: id.NewMutationID(), EntityType: mutation.EntityReadiness}

	called := false
	err := mw(context.Background(), m, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("applier not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	m := &mutation.Mutation{ID: id.NewMutationID(), EntityType: mutation.EntityWorkoutLog, Operation: mutation.OpCreate}

	called := false
	err := mw(context.Background(), m, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("applier not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	m := &mutation.Mutation{ID: id.NewMutationID(), EntityType: mutation.EntityWorkoutLog}
	want := errors.New("fail")

	err := mw(context.Background(), m, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	m := &mutation.Mutation{ID: id.NewMutationID(), Timeout: 1}

	err := mw(context.Background(), m, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	m := &mutation.Mutation{ID: id.NewMutationID()}

	err := mw(context.Background(), m, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_RestoresFromMutation(t *testing.T) {
	mw := middleware.Scope()
	deviceID := id.NewDeviceID()
	m := &mutation.Mutation{
		ID:       id.NewMutationID(),
		UserID:   "usr_test123",
		DeviceID: deviceID,
	}

	err := mw(context.Background(), m, func(ctx context.Context) error {
		userID, devID := scope.Capture(ctx)
		if userID != "usr_test123" {
			t.Errorf("userID = %q, want %q", userID, "usr_test123")
		}
		if devID != deviceID.String() {
			t.Errorf("deviceID = %q, want %q", devID, deviceID.String())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Scope()
	m := &mutation.Mutation{ID: id.NewMutationID()}

	err := mw(context.Background(), m, func(ctx context.Context) error {
		userID, devID := scope.Capture(ctx)
		if userID != "" || devID != "" {
			t.Fatalf("expected empty scope, got user=%q device=%q", userID, devID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
