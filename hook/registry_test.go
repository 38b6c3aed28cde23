package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnMutationEnqueued(_ context.Context, _ *mutation.Mutation) error {
	e.calls = append(e.calls, "OnMutationEnqueued")
	return nil
}

func (e *allHooksExt) OnMutationStarted(_ context.Context, _ *mutation.Mutation) error {
	e.calls = append(e.calls, "OnMutationStarted")
	return nil
}

func (e *allHooksExt) OnMutationSynced(_ context.Context, _ *mutation.Mutation, _ time.Duration) error {
	e.calls = append(e.calls, "OnMutationSynced")
	return nil
}

func (e *allHooksExt) OnMutationRetrying(_ context.Context, _ *mutation.Mutation, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnMutationRetrying")
	return nil
}

func (e *allHooksExt) OnMutationDeadLettered(_ context.Context, _ *mutation.Mutation, _ error) error {
	e.calls = append(e.calls, "OnMutationDeadLettered")
	return nil
}

func (e *allHooksExt) OnPassStarted(_ context.Context, _ id.PassID, _ string) error {
	e.calls = append(e.calls, "OnPassStarted")
	return nil
}

func (e *allHooksExt) OnPassFinished(_ context.Context, _ id.PassID, _, _ int, _ time.Duration) error {
	e.calls = append(e.calls, "OnPassFinished")
	return nil
}

func (e *allHooksExt) OnDeadLettersRecovered(_ context.Context, _ int64) error {
	e.calls = append(e.calls, "OnDeadLettersRecovered")
	return nil
}

func (e *allHooksExt) OnExportCreated(_ context.Context, _ *export.File) error {
	e.calls = append(e.calls, "OnExportCreated")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// mutationOnlyExt only implements mutation-related hooks.
type mutationOnlyExt struct {
	calls []string
}

func (e *mutationOnlyExt) Name() string { return "mutation-only" }

func (e *mutationOnlyExt) OnMutationEnqueued(_ context.Context, _ *mutation.Mutation) error {
	e.calls = append(e.calls, "OnMutationEnqueued")
	return nil
}

func (e *mutationOnlyExt) OnMutationSynced(_ context.Context, _ *mutation.Mutation, _ time.Duration) error {
	e.calls = append(e.calls, "OnMutationSynced")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnMutationEnqueued(_ context.Context, _ *mutation.Mutation) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	mo := &mutationOnlyExt{}
	r.Register(all)
	r.Register(mo)

	ctx := context.Background()
	m := &mutation.Mutation{EntityType: mutation.EntityWorkout}

	// Both implement OnMutationEnqueued → both called.
	r.EmitMutationEnqueued(ctx, m)
	if len(all.calls) != 1 || all.calls[0] != "OnMutationEnqueued" {
		t.Fatalf("all: expected [OnMutationEnqueued], got %v", all.calls)
	}
	if len(mo.calls) != 1 || mo.calls[0] != "OnMutationEnqueued" {
		t.Fatalf("mo: expected [OnMutationEnqueued], got %v", mo.calls)
	}

	// Only all implements OnMutationStarted → mo not called.
	r.EmitMutationStarted(ctx, m)
	if len(all.calls) != 2 || all.calls[1] != "OnMutationStarted" {
		t.Fatalf("all: expected OnMutationStarted as 2nd, got %v", all.calls)
	}
	if len(mo.calls) != 1 {
		t.Fatalf("mo: should still have 1 call, got %v", mo.calls)
	}
}

func TestRegistry_AllMutationHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	m := &mutation.Mutation{EntityType: mutation.EntityWorkout}

	r.EmitMutationEnqueued(ctx, m)
	r.EmitMutationStarted(ctx, m)
	r.EmitMutationSynced(ctx, m, time.Second)
	r.EmitMutationRetrying(ctx, m, 1, time.Now())
	r.EmitMutationDeadLettered(ctx, m, errors.New("budget exhausted"))

	expected := []string{
		"OnMutationEnqueued", "OnMutationStarted", "OnMutationSynced",
		"OnMutationRetrying", "OnMutationDeadLettered",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_PassRecoveryExportShutdownHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	passID := id.NewPassID()

	r.EmitPassStarted(ctx, passID, "manual")
	r.EmitPassFinished(ctx, passID, 3, 1, time.Second)
	r.EmitDeadLettersRecovered(ctx, 3)
	r.EmitExportCreated(ctx, &export.File{ID: id.NewExportID()})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnPassStarted", "OnPassFinished",
		"OnDeadLettersRecovered", "OnExportCreated", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	m := &mutation.Mutation{EntityType: mutation.EntityWorkout}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitMutationEnqueued(ctx, m)

	if len(all.calls) != 1 || all.calls[0] != "OnMutationEnqueued" {
		t.Fatalf("all: expected [OnMutationEnqueued] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitMutationEnqueued(ctx, &mutation.Mutation{})
	r.EmitMutationStarted(ctx, &mutation.Mutation{})
	r.EmitMutationSynced(ctx, &mutation.Mutation{}, time.Second)
	r.EmitMutationRetrying(ctx, &mutation.Mutation{}, 1, time.Now())
	r.EmitMutationDeadLettered(ctx, &mutation.Mutation{}, errors.New("x"))
	r.EmitPassStarted(ctx, id.NewPassID(), "poll")
	r.EmitPassFinished(ctx, id.NewPassID(), 0, 0, time.Second)
	r.EmitDeadLettersRecovered(ctx, 0)
	r.EmitExportCreated(ctx, &export.File{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitMutationEnqueued(ctx, &mutation.Mutation{})

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
