package status

import (
	"context"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Compile-time checks that Extension implements the lifecycle hooks it
// consumes.
var (
	_ hook.Extension            = (*Extension)(nil)
	_ hook.MutationEnqueued     = (*Extension)(nil)
	_ hook.MutationSynced       = (*Extension)(nil)
	_ hook.MutationRetrying     = (*Extension)(nil)
	_ hook.MutationDeadLettered = (*Extension)(nil)
	_ hook.PassStarted          = (*Extension)(nil)
	_ hook.PassFinished         = (*Extension)(nil)
	_ hook.DeadLettersRecovered = (*Extension)(nil)
)

// Extension feeds lifecycle events into a Tracker so the snapshot stays
// current without any component polling the store.
type Extension struct {
	tracker *Tracker
}

// NewExtension creates the tracker-updating extension.
func NewExtension(tracker *Tracker) *Extension {
	return &Extension{tracker: tracker}
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "status" }

// Tracker returns the tracker this extension updates.
func (e *Extension) Tracker() *Tracker { return e.tracker }

// Prime seeds the counters from authoritative store counts. Call once at
// startup; afterwards the hooks keep the deltas current.
func (e *Extension) Prime(queueDepth, deadLetters int64) {
	e.tracker.Update(func(s *Snapshot) {
		s.QueueDepth = queueDepth
		s.DeadLetters = deadLetters
	})
}

// OnMutationEnqueued implements hook.MutationEnqueued.
func (e *Extension) OnMutationEnqueued(_ context.Context, m *mutation.Mutation) error {
	e.tracker.Update(func(s *Snapshot) {
		s.QueueDepth++
	})
	return nil
}

// OnMutationSynced implements hook.MutationSynced.
func (e *Extension) OnMutationSynced(_ context.Context, m *mutation.Mutation, elapsed time.Duration) error {
	e.tracker.Update(func(s *Snapshot) {
		if s.QueueDepth > 0 {
			s.QueueDepth--
		}
	})
	return nil
}

// OnMutationRetrying implements hook.MutationRetrying.
func (e *Extension) OnMutationRetrying(_ context.Context, m *mutation.Mutation, attempt int, nextRunAt time.Time) error {
	e.tracker.Update(func(s *Snapshot) {
		s.LastError = m.LastError
	})
	return nil
}

// OnMutationDeadLettered implements hook.MutationDeadLettered.
func (e *Extension) OnMutationDeadLettered(_ context.Context, m *mutation.Mutation, cause error) error {
	e.tracker.Update(func(s *Snapshot) {
		if s.QueueDepth > 0 {
			s.QueueDepth--
		}
		s.DeadLetters++
		if cause != nil {
			s.LastError = cause.Error()
		}
	})
	return nil
}

// OnPassStarted implements hook.PassStarted.
func (e *Extension) OnPassStarted(_ context.Context, passID id.PassID, trigger string) error {
	e.tracker.Update(func(s *Snapshot) {
		s.SyncRunning = true
	})
	return nil
}

// OnPassFinished implements hook.PassFinished.
func (e *Extension) OnPassFinished(_ context.Context, passID id.PassID, synced, failed int, elapsed time.Duration) error {
	e.tracker.Update(func(s *Snapshot) {
		s.SyncRunning = false
		s.LastSyncAt = time.Now().UTC()
	})
	return nil
}

// OnDeadLettersRecovered implements hook.DeadLettersRecovered.
func (e *Extension) OnDeadLettersRecovered(_ context.Context, count int64) error {
	e.tracker.Update(func(s *Snapshot) {
		s.LastRecoverCount = count
		s.DeadLetters -= count
		if s.DeadLetters < 0 {
			s.DeadLetters = 0
		}
		s.QueueDepth += count
	})
	return nil
}

