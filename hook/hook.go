// Package hook defines the extension system for fitsync.
// Extensions are notified of lifecycle events (mutation enqueued, synced,
// dead-lettered, recovered, etc.) and can react to them — logging,
// metrics, live status feeds, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Mutation lifecycle hooks
// ──────────────────────────────────────────────────

// MutationEnqueued is called after a mutation is successfully enqueued.
type MutationEnqueued interface {
	OnMutationEnqueued(ctx context.Context, m *mutation.Mutation) error
}

// MutationStarted is called when the engine begins applying a mutation.
type MutationStarted interface {
	OnMutationStarted(ctx context.Context, m *mutation.Mutation) error
}

// MutationSynced is called after a mutation is applied to the remote API.
type MutationSynced interface {
	OnMutationSynced(ctx context.Context, m *mutation.Mutation, elapsed time.Duration) error
}

// MutationRetrying is called when an attempt fails but the mutation is
// scheduled for retry.
type MutationRetrying interface {
	OnMutationRetrying(ctx context.Context, m *mutation.Mutation, attempt int, nextRunAt time.Time) error
}

// MutationDeadLettered is called when a mutation exhausts its retry budget
// and enters the dead-letter set.
type MutationDeadLettered interface {
	OnMutationDeadLettered(ctx context.Context, m *mutation.Mutation, err error) error
}

// ──────────────────────────────────────────────────
// Sync pass hooks
// ──────────────────────────────────────────────────

// PassStarted is called when a sync pass begins. Trigger is "poll" for the
// periodic schedule and "manual" for an explicit SyncNow.
type PassStarted interface {
	OnPassStarted(ctx context.Context, passID id.PassID, trigger string) error
}

// PassFinished is called after a sync pass drains the eligible queue.
type PassFinished interface {
	OnPassFinished(ctx context.Context, passID id.PassID, synced, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Recovery and export hooks
// ──────────────────────────────────────────────────

// DeadLettersRecovered is called after a bulk recovery returns dead
// mutations to the active queue.
type DeadLettersRecovered interface {
	OnDeadLettersRecovered(ctx context.Context, count int64) error
}

// ExportCreated is called after a dead-letter export file is written.
type ExportCreated interface {
	OnExportCreated(ctx context.Context, f *export.File) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
