package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/observability"
)

func newTestExtension() (*observability.MetricsExtension, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.NewMetricsExtensionWithRegisterer(reg), reg
}

func newTestMutation() *mutation.Mutation {
	return &mutation.Mutation{
		ID:         id.NewMutationID(),
		EntityType: mutation.EntityWorkout,
		EntityID:   "workout-1",
		Operation:  mutation.OpUpdate,
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_MutationEnqueued(t *testing.T) {
	e, _ := newTestExtension()
	if err := e.OnMutationEnqueued(context.Background(), newTestMutation()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.MutationsEnqueued); got != 1 {
		t.Errorf("MutationsEnqueued: want 1, got %v", got)
	}
}

func TestMetricsExtension_MutationSynced(t *testing.T) {
	e, _ := newTestExtension()
	if err := e.OnMutationSynced(context.Background(), newTestMutation(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.MutationsSynced); got != 1 {
		t.Errorf("MutationsSynced: want 1, got %v", got)
	}
}

func TestMetricsExtension_MutationRetrying(t *testing.T) {
	e, _ := newTestExtension()
	if err := e.OnMutationRetrying(context.Background(), newTestMutation(), 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.MutationRetries); got != 1 {
		t.Errorf("MutationRetries: want 1, got %v", got)
	}
}

func TestMetricsExtension_MutationDeadLettered(t *testing.T) {
	e, _ := newTestExtension()
	if err := e.OnMutationDeadLettered(context.Background(), newTestMutation(), errors.New("terminal")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.MutationsDeadLetter); got != 1 {
		t.Errorf("MutationsDeadLetter: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(e.DeadLetterDepth); got != 1 {
		t.Errorf("DeadLetterDepth: want 1, got %v", got)
	}
}

func TestMetricsExtension_PassStarted(t *testing.T) {
	e, _ := newTestExtension()
	if err := e.OnPassStarted(context.Background(), id.NewPassID(), "manual"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnPassStarted(context.Background(), id.NewPassID(), "poll"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.PassesStarted.WithLabelValues("manual")); got != 1 {
		t.Errorf("PassesStarted[manual]: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(e.PassesStarted.WithLabelValues("poll")); got != 1 {
		t.Errorf("PassesStarted[poll]: want 1, got %v", got)
	}
}

func TestMetricsExtension_PassFinished(t *testing.T) {
	e, reg := newTestExtension()
	if err := e.OnPassFinished(context.Background(), id.NewPassID(), 3, 1, 250*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, sum := histogramSnapshot(t, reg, "fitsync_sync_pass_duration_seconds")
	if count != 1 {
		t.Errorf("PassDuration observations: want 1, got %d", count)
	}
	if sum < 0.24 || sum > 0.26 {
		t.Errorf("PassDuration sum: want ~0.25, got %v", sum)
	}
}

func TestMetricsExtension_DeadLettersRecovered(t *testing.T) {
	e, _ := newTestExtension()
	for range 3 {
		if err := e.OnMutationDeadLettered(context.Background(), newTestMutation(), errors.New("terminal")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := e.OnDeadLettersRecovered(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.DeadLettersRecovered); got != 2 {
		t.Errorf("DeadLettersRecovered: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(e.DeadLetterDepth); got != 1 {
		t.Errorf("DeadLetterDepth after recovery: want 1, got %v", got)
	}
}

func TestMetricsExtension_ExportCreated(t *testing.T) {
	e, _ := newTestExtension()
	f := &export.File{
		ID:        id.NewExportID(),
		Path:      "/tmp/deadletters.json",
		Name:      "deadletters.json",
		Count:     4,
		CreatedAt: time.Now(),
	}
	if err := e.OnExportCreated(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.ExportsCreated); got != 1 {
		t.Errorf("ExportsCreated: want 1, got %v", got)
	}
}

// histogramSnapshot gathers the registry and returns the sample count and
// sum for the named histogram.
func histogramSnapshot(t *testing.T, reg *prometheus.Registry, name string) (uint64, float64) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			h := mf.GetMetric()[0].GetHistogram()
			return h.GetSampleCount(), h.GetSampleSum()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0, 0
}
