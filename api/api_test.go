package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/api"
	"github.com/saicgr/AIFitnessCoach-sub010/engine"
	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/status"
	"github.com/saicgr/AIFitnessCoach-sub010/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer builds an engine on the given store and serves the admin
// API from an httptest server.
func newTestServer(t *testing.T, s fitsync.Storer) (string, *engine.Engine) {
	t.Helper()

	agent, err := fitsync.New(fitsync.WithStore(s), fitsync.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("fitsync.New: %v", err)
	}
	eng, err := engine.Build(agent,
		engine.WithExportDir(t.TempDir()),
		engine.WithPrometheusRegisterer(prometheus.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	hs := httptest.NewServer(api.New(eng, api.WithLogger(testLogger())).Handler())
	t.Cleanup(hs.Close)
	return hs.URL, eng
}

func seedMutation(t *testing.T, s *memory.Store, state mutation.State, et mutation.EntityType) *mutation.Mutation {
	t.Helper()

	at := time.Now().UTC().Add(-time.Hour)
	m := &mutation.Mutation{
		Entity:     fitsync.NewEntity(),
		ID:         id.NewMutationID(),
		EntityType: et,
		EntityID:   "ent_1",
		Operation:  mutation.OpUpdate,
		Payload:    []byte(`{"sets":3}`),
		State:      state,
		MaxRetries: 3,
		RunAt:      at,
		UserID:     "user_1",
	}
	if state == mutation.StateDead {
		m.RetryCount = m.MaxRetries
		m.LastError = "remote rejected"
		m.DeadAt = &at
	}
	if err := s.EnqueueMutation(context.Background(), m); err != nil {
		t.Fatalf("EnqueueMutation: %v", err)
	}
	return m
}

func request(t *testing.T, method, url string, body io.Reader) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
}

// ──────────────────────────────────────────────────
// Mutation queue
// ──────────────────────────────────────────────────

func TestListMutations_DefaultsToPending(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StatePending, mutation.EntityReadiness)
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/mutations", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var muts []*mutation.Mutation
	decode(t, body, &muts)
	if len(muts) != 2 {
		t.Fatalf("got %d mutations, want 2 pending", len(muts))
	}
	for _, m := range muts {
		if m.State != mutation.StatePending {
			t.Fatalf("mutation %s state = %s, want pending", m.ID, m.State)
		}
	}
}

func TestListMutations_StateAndEntityFilter(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateDead, mutation.EntityReadiness)
	seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/mutations?state=dead&entity_type=workout", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var muts []*mutation.Mutation
	decode(t, body, &muts)
	if len(muts) != 1 {
		t.Fatalf("got %d mutations, want 1", len(muts))
	}
	if muts[0].EntityType != mutation.EntityWorkout || muts[0].State != mutation.StateDead {
		t.Fatalf("got %s/%s, want workout/dead", muts[0].EntityType, muts[0].State)
	}
}

func TestGetMutation(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seeded := seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/mutations/"+seeded.ID.String(), nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var got mutation.Mutation
	decode(t, body, &got)
	if got.ID != seeded.ID {
		t.Fatalf("ID = %s, want %s", got.ID, seeded.ID)
	}
	if got.EntityID != "ent_1" {
		t.Fatalf("EntityID = %q, want ent_1", got.EntityID)
	}
}

func TestGetMutation_NotFound(t *testing.T) {
	t.Parallel()
	url, _ := newTestServer(t, memory.New())

	code, _ := request(t, http.MethodGet, url+"/v1/mutations/"+id.NewMutationID().String(), nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestGetMutation_InvalidID(t *testing.T) {
	t.Parallel()
	url, _ := newTestServer(t, memory.New())

	code, body := request(t, http.MethodGet, url+"/v1/mutations/not-an-id", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", code, body)
	}

	var errResp api.ErrorResponse
	decode(t, body, &errResp)
	if errResp.Error == "" {
		t.Fatal("error body is empty")
	}
}

func TestDeleteMutation_Pending(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seeded := seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, _ := request(t, http.MethodDelete, url+"/v1/mutations/"+seeded.ID.String(), nil)
	if code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", code)
	}

	count, err := s.CountMutations(context.Background(), mutation.CountOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("mutations left = %d, want 0", count)
	}
}

func TestDeleteMutation_InflightRefused(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seeded := seedMutation(t, s, mutation.StateInflight, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodDelete, url+"/v1/mutations/"+seeded.ID.String(), nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", code, body)
	}

	// Still there.
	if _, err := s.GetMutation(context.Background(), seeded.ID); err != nil {
		t.Fatalf("inflight mutation was deleted: %v", err)
	}
}

func TestMutationCounts(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StatePending, mutation.EntityReadiness)
	seedMutation(t, s, mutation.StateInflight, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateSynced, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateRetrying, mutation.EntityWorkoutLog)
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/mutations/counts", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var counts api.MutationCountsResponse
	decode(t, body, &counts)
	want := api.MutationCountsResponse{Pending: 2, Inflight: 1, Synced: 1, Retrying: 1, Dead: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
}

// ──────────────────────────────────────────────────
// Dead-letter set
// ──────────────────────────────────────────────────

func TestListDeadLetters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateDead, mutation.EntityReadiness)
	seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/deadletters", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var entries []*mutation.Mutation
	decode(t, body, &entries)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	code, body = request(t, http.MethodGet, url+"/v1/deadletters/count", nil)
	if code != http.StatusOK {
		t.Fatalf("count status = %d, want 200 (%s)", code, body)
	}
	var count api.DeadLetterCountResponse
	decode(t, body, &count)
	if count.Count != 2 {
		t.Fatalf("count = %d, want 2", count.Count)
	}
}

func TestRecoverDeadLetters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkoutLog)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodPost, url+"/v1/deadletters/recover", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var result struct {
		Recovered int64 `json:"recovered"`
	}
	decode(t, body, &result)
	if result.Recovered != 2 {
		t.Fatalf("recovered = %d, want 2", result.Recovered)
	}

	ctx := context.Background()
	dead, _ := s.CountDeadLetters(ctx)
	if dead != 0 {
		t.Fatalf("dead letters after recover = %d, want 0", dead)
	}
	pending, _ := s.CountMutations(ctx, mutation.CountOpts{State: mutation.StatePending})
	if pending != 2 {
		t.Fatalf("pending after recover = %d, want 2", pending)
	}
}

// blockingStore parks RecoverDeadLetters until released, for exercising
// the conflict response while a recovery is running.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) RecoverDeadLetters(ctx context.Context) (int64, error) {
	close(b.entered)
	<-b.release
	return b.Store.RecoverDeadLetters(ctx)
}

func TestRecoverDeadLetters_ConflictWhileRunning(t *testing.T) {
	t.Parallel()
	bs := &blockingStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	seedMutation(t, bs.Store, mutation.StateDead, mutation.EntityWorkout)
	url, _ := newTestServer(t, bs)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(url+"/v1/deadletters/recover", "application/json", nil)
		if err != nil {
			done <- -1
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-bs.entered
	code, body := request(t, http.MethodPost, url+"/v1/deadletters/recover", nil)
	if code != http.StatusConflict {
		t.Fatalf("concurrent recover status = %d, want 409 (%s)", code, body)
	}

	close(bs.release)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("first recover status = %d, want 200", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first recover did not finish")
	}
}

func TestExportDeadLetters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodPost, url+"/v1/deadletters/export", nil)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", code, body)
	}

	var f export.File
	decode(t, body, &f)
	if f.Count != 1 {
		t.Fatalf("exported count = %d, want 1", f.Count)
	}
	if f.Path == "" {
		t.Fatal("export path is empty")
	}
	if _, err := os.Stat(f.Path); err != nil {
		t.Fatalf("export file missing on disk: %v", err)
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	old := seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	deadAt := time.Now().UTC().Add(-48 * time.Hour)
	old.DeadAt = &deadAt
	if err := s.UpdateMutation(context.Background(), old); err != nil {
		t.Fatalf("UpdateMutation: %v", err)
	}
	seedMutation(t, s, mutation.StateDead, mutation.EntityReadiness)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodPost, url+"/v1/deadletters/purge",
		strings.NewReader(`{"older_than_hours": 24}`))
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var purged api.PurgeResponse
	decode(t, body, &purged)
	if purged.Purged != 1 {
		t.Fatalf("purged = %d, want 1", purged.Purged)
	}

	count, _ := s.CountDeadLetters(context.Background())
	if count != 1 {
		t.Fatalf("dead letters left = %d, want 1", count)
	}
}

func TestPurgeDeadLetters_NegativeWindow(t *testing.T) {
	t.Parallel()
	url, _ := newTestServer(t, memory.New())

	code, _ := request(t, http.MethodPost, url+"/v1/deadletters/purge",
		strings.NewReader(`{"older_than_hours": -1}`))
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

// ──────────────────────────────────────────────────
// Status, sync and stats
// ──────────────────────────────────────────────────

func TestGetStatus(t *testing.T) {
	t.Parallel()
	url, eng := newTestServer(t, memory.New())
	eng.Tracker().Update(func(s *status.Snapshot) {
		s.QueueDepth = 4
		s.DeadLetters = 1
	})

	code, body := request(t, http.MethodGet, url+"/v1/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var snap status.Snapshot
	decode(t, body, &snap)
	if snap.QueueDepth != 4 || snap.DeadLetters != 1 {
		t.Fatalf("snapshot = %+v, want queue_depth=4 dead_letters=1", snap)
	}
}

func TestSyncNow(t *testing.T) {
	t.Parallel()
	url, _ := newTestServer(t, memory.New())

	code, body := request(t, http.MethodPost, url+"/v1/sync", nil)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", code, body)
	}

	var resp api.SyncResponse
	decode(t, body, &resp)
	if !resp.Triggered {
		t.Fatal("triggered = false, want true")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedMutation(t, s, mutation.StatePending, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StatePending, mutation.EntityReadiness)
	seedMutation(t, s, mutation.StateSynced, mutation.EntityWorkout)
	seedMutation(t, s, mutation.StateDead, mutation.EntityWorkout)
	url, _ := newTestServer(t, s)

	code, body := request(t, http.MethodGet, url+"/v1/stats", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", code, body)
	}

	var stats api.StatsResponse
	decode(t, body, &stats)
	if stats.Mutations.Pending != 2 || stats.Mutations.Synced != 1 || stats.Mutations.Dead != 1 {
		t.Fatalf("mutation counts = %+v, want pending=2 synced=1 dead=1", stats.Mutations)
	}
	if stats.DeadLetters != 1 {
		t.Fatalf("dead_letters = %d, want 1", stats.DeadLetters)
	}
}
