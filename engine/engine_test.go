package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/backoff"
	"github.com/saicgr/AIFitnessCoach-sub010/engine"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/scope"
	"github.com/saicgr/AIFitnessCoach-sub010/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildEngine wires a full engine over a fresh memory store with fast
// timings for tests.
func buildEngine(t *testing.T, agentOpts []fitsync.Option, engOpts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()

	s := memory.New()
	opts := append([]fitsync.Option{
		fitsync.WithStore(s),
		fitsync.WithLogger(testLogger()),
		fitsync.WithPollInterval(10 * time.Millisecond),
		fitsync.WithHeartbeatInterval(50 * time.Millisecond),
	}, agentOpts...)

	agent, err := fitsync.New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	engOpts = append([]engine.Option{
		engine.WithExportDir(t.TempDir()),
		engine.WithPrometheusRegisterer(prometheus.NewRegistry()),
		engine.WithBackoff(backoff.NewConstant(5 * time.Millisecond)),
	}, engOpts...)

	eng, err := engine.Build(agent, engOpts...)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return eng, s
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func mutationState(s *memory.Store, m *mutation.Mutation) mutation.State {
	got, err := s.GetMutation(context.Background(), m.ID)
	if err != nil {
		return ""
	}
	return got.State
}

// ── Build ───────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	agent, err := fitsync.New(fitsync.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = engine.Build(agent)
	if !errors.Is(err, fitsync.ErrNoStore) {
		t.Errorf("Build() error = %v, want ErrNoStore", err)
	}
}

type lifecycleOnlyStore struct{}

func (lifecycleOnlyStore) Migrate(context.Context) error { return nil }
func (lifecycleOnlyStore) Ping(context.Context) error    { return nil }
func (lifecycleOnlyStore) Close() error                  { return nil }

func TestBuild_RejectsIncompleteStore(t *testing.T) {
	agent, err := fitsync.New(
		fitsync.WithStore(lifecycleOnlyStore{}),
		fitsync.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := engine.Build(agent); err == nil {
		t.Error("Build() should reject a store without mutation.Store")
	}
}

// ── Enqueue ─────────────────────────────────────────

func TestEnqueue_UnknownEntityType(t *testing.T) {
	eng, _ := buildEngine(t, nil)

	_, err := eng.EnqueueRaw(context.Background(), "banana", mutation.OpCreate, "e1", nil)
	if !errors.Is(err, fitsync.ErrUnknownEntityType) {
		t.Errorf("EnqueueRaw() error = %v, want ErrUnknownEntityType", err)
	}
}

func TestEnqueue_CapturesScope(t *testing.T) {
	eng, _ := buildEngine(t, nil)

	ctx := scope.WithUser(context.Background(), "user-7")
	m, err := engine.Enqueue(ctx, eng, mutation.EntityWorkout, mutation.OpCreate, "w1",
		struct{ Title string }{Title: "Push Day"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if m.UserID != "user-7" {
		t.Errorf("UserID = %q, want %q", m.UserID, "user-7")
	}
	if m.State != mutation.StatePending {
		t.Errorf("State = %q, want %q", m.State, mutation.StatePending)
	}
	if m.MaxRetries != fitsync.DefaultConfig().MaxRetries {
		t.Errorf("MaxRetries = %d, want agent default %d", m.MaxRetries, fitsync.DefaultConfig().MaxRetries)
	}
}

func TestEnqueue_MutationOptionsOverrideDefaults(t *testing.T) {
	eng, _ := buildEngine(t, []fitsync.Option{fitsync.WithMaxRetries(9)})

	runAt := time.Now().UTC().Add(time.Hour)
	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityReadiness, mutation.OpUpdate, "r1",
		struct{ Score int }{Score: 80},
		mutation.WithMaxRetries(1),
		mutation.WithRunAt(runAt),
	)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if m.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", m.MaxRetries)
	}
	if !m.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %s, want %s", m.RunAt, runAt)
	}
}

// ── End to end ──────────────────────────────────────

func TestEngine_SyncsEnqueuedMutation(t *testing.T) {
	eng, s := buildEngine(t, nil)

	type workoutDoc struct {
		Title string `json:"title"`
	}
	var applied atomic.Int64
	engine.Register(eng, mutation.NewDefinition(mutation.EntityWorkout,
		func(_ context.Context, op mutation.Operation, entityID string, doc workoutDoc) error {
			if op != mutation.OpCreate {
				t.Errorf("operation = %q, want %q", op, mutation.OpCreate)
			}
			if entityID != "w1" {
				t.Errorf("entityID = %q, want %q", entityID, "w1")
			}
			if doc.Title != "Leg Day" {
				t.Errorf("doc.Title = %q, want %q", doc.Title, "Leg Day")
			}
			applied.Add(1)
			return nil
		}))

	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityWorkout, mutation.OpCreate, "w1",
		workoutDoc{Title: "Leg Day"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	startEngine(t, eng)

	waitFor(t, "mutation to sync", func() bool {
		return mutationState(s, m) == mutation.StateSynced
	})
	if got := applied.Load(); got != 1 {
		t.Errorf("applier ran %d times, want 1", got)
	}

	got, err := s.GetMutation(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMutation() error = %v", err)
	}
	if got.SyncedAt == nil {
		t.Error("expected SyncedAt to be set")
	}
}

func TestEngine_RetriesThenDeadLettersThenRecovers(t *testing.T) {
	eng, s := buildEngine(t, nil)

	// Fails transiently until healed, then applies cleanly.
	var healed atomic.Bool
	var attempts atomic.Int64
	engine.Register(eng, mutation.NewDefinition(mutation.EntityWorkoutLog,
		func(_ context.Context, _ mutation.Operation, _ string, _ struct{}) error {
			attempts.Add(1)
			if healed.Load() {
				return nil
			}
			return fmt.Errorf("upstream unavailable")
		}))

	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityWorkoutLog, mutation.OpCreate, "wl1",
		struct{}{}, mutation.WithMaxRetries(1))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	startEngine(t, eng)

	waitFor(t, "mutation to dead-letter", func() bool {
		return mutationState(s, m) == mutation.StateDead
	})
	// Initial attempt plus one retry.
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts before recovery = %d, want 2", got)
	}

	dead, err := s.GetMutation(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMutation() error = %v", err)
	}
	if dead.DeadAt == nil {
		t.Error("expected DeadAt to be set")
	}
	if dead.LastError == "" {
		t.Error("expected LastError to be recorded")
	}

	healed.Store(true)
	result, err := eng.DeadLetters().RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll() error = %v", err)
	}
	if result.Recovered != 1 {
		t.Errorf("Recovered = %d, want 1", result.Recovered)
	}

	waitFor(t, "recovered mutation to sync", func() bool {
		return mutationState(s, m) == mutation.StateSynced
	})
}

func TestEngine_PermanentErrorSkipsRetries(t *testing.T) {
	eng, s := buildEngine(t, nil)

	var attempts atomic.Int64
	engine.Register(eng, mutation.NewDefinition(mutation.EntityReadiness,
		func(_ context.Context, _ mutation.Operation, _ string, _ struct{}) error {
			attempts.Add(1)
			return fitsync.Permanent(fmt.Errorf("remote rejected the payload"))
		}))

	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityReadiness, mutation.OpCreate, "r1",
		struct{}{}, mutation.WithMaxRetries(5))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	startEngine(t, eng)

	waitFor(t, "mutation to dead-letter", func() bool {
		return mutationState(s, m) == mutation.StateDead
	})
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent failure", got)
	}
}

func TestEngine_SyncNowBypassesPollInterval(t *testing.T) {
	// Poll so rarely that only SyncNow can move the queue.
	eng, s := buildEngine(t, []fitsync.Option{fitsync.WithPollInterval(time.Hour)})

	engine.Register(eng, mutation.NewDefinition(mutation.EntityWorkout,
		func(_ context.Context, _ mutation.Operation, _ string, _ struct{}) error {
			return nil
		}))

	startEngine(t, eng)

	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityWorkout, mutation.OpUpdate, "w1", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	eng.SyncNow()

	waitFor(t, "mutation to sync after SyncNow", func() bool {
		return mutationState(s, m) == mutation.StateSynced
	})
}

func TestEngine_StatusFollowsLifecycle(t *testing.T) {
	eng, s := buildEngine(t, nil)

	engine.Register(eng, mutation.NewDefinition(mutation.EntityWorkout,
		func(_ context.Context, _ mutation.Operation, _ string, _ struct{}) error {
			return nil
		}))

	m, err := engine.Enqueue(context.Background(), eng, mutation.EntityWorkout, mutation.OpCreate, "w1", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	startEngine(t, eng)

	waitFor(t, "mutation to sync", func() bool {
		return mutationState(s, m) == mutation.StateSynced
	})
	// Tracker updates trail the store; poll the snapshot.
	waitFor(t, "status to drain the queue", func() bool {
		snap := eng.Status()
		return snap.QueueDepth == 0 && !snap.LastSyncAt.IsZero()
	})
}

func TestEngine_StartPrimesStatusFromStore(t *testing.T) {
	eng, _ := buildEngine(t, []fitsync.Option{fitsync.WithPollInterval(time.Hour)})

	// Enqueue before Start so the counts only exist in the store.
	for range 3 {
		if _, err := engine.Enqueue(context.Background(), eng, mutation.EntityWorkout, mutation.OpCreate,
			"w1", struct{}{}, mutation.WithRunAt(time.Now().UTC().Add(time.Hour))); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	startEngine(t, eng)

	waitFor(t, "status to reflect seeded queue", func() bool {
		return eng.Status().QueueDepth == 3
	})
}
