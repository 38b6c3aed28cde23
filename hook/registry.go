package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type mutationEnqueuedEntry struct {
	name string
	hook MutationEnqueued
}

type mutationStartedEntry struct {
	name string
	hook MutationStarted
}

type mutationSyncedEntry struct {
	name string
	hook MutationSynced
}

type mutationRetryingEntry struct {
	name string
	hook MutationRetrying
}

type mutationDeadLetteredEntry struct {
	name string
	hook MutationDeadLettered
}

type passStartedEntry struct {
	name string
	hook PassStarted
}

type passFinishedEntry struct {
	name string
	hook PassFinished
}

type deadLettersRecoveredEntry struct {
	name string
	hook DeadLettersRecovered
}

type exportCreatedEntry struct {
	name string
	hook ExportCreated
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	mutationEnqueued     []mutationEnqueuedEntry
	mutationStarted      []mutationStartedEntry
	mutationSynced       []mutationSyncedEntry
	mutationRetrying     []mutationRetryingEntry
	mutationDeadLettered []mutationDeadLetteredEntry
	passStarted          []passStartedEntry
	passFinished         []passFinishedEntry
	deadLettersRecovered []deadLettersRecoveredEntry
	exportCreated        []exportCreatedEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(MutationEnqueued); ok {
		r.mutationEnqueued = append(r.mutationEnqueued, mutationEnqueuedEntry{name, h})
	}
	if h, ok := e.(MutationStarted); ok {
		r.mutationStarted = append(r.mutationStarted, mutationStartedEntry{name, h})
	}
	if h, ok := e.(MutationSynced); ok {
		r.mutationSynced = append(r.mutationSynced, mutationSyncedEntry{name, h})
	}
	if h, ok := e.(MutationRetrying); ok {
		r.mutationRetrying = append(r.mutationRetrying, mutationRetryingEntry{name, h})
	}
	if h, ok := e.(MutationDeadLettered); ok {
		r.mutationDeadLettered = append(r.mutationDeadLettered, mutationDeadLetteredEntry{name, h})
	}
	if h, ok := e.(PassStarted); ok {
		r.passStarted = append(r.passStarted, passStartedEntry{name, h})
	}
	if h, ok := e.(PassFinished); ok {
		r.passFinished = append(r.passFinished, passFinishedEntry{name, h})
	}
	if h, ok := e.(DeadLettersRecovered); ok {
		r.deadLettersRecovered = append(r.deadLettersRecovered, deadLettersRecoveredEntry{name, h})
	}
	if h, ok := e.(ExportCreated); ok {
		r.exportCreated = append(r.exportCreated, exportCreatedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Mutation event emitters
// ──────────────────────────────────────────────────

// EmitMutationEnqueued notifies all extensions that implement MutationEnqueued.
func (r *Registry) EmitMutationEnqueued(ctx context.Context, m *mutation.Mutation) {
	for _, e := range r.mutationEnqueued {
		if err := e.hook.OnMutationEnqueued(ctx, m); err != nil {
			r.logHookError("OnMutationEnqueued", e.name, err)
		}
	}
}

// EmitMutationStarted notifies all extensions that implement MutationStarted.
func (r *Registry) EmitMutationStarted(ctx context.Context, m *mutation.Mutation) {
	for _, e := range r.mutationStarted {
		if err := e.hook.OnMutationStarted(ctx, m); err != nil {
			r.logHookError("OnMutationStarted", e.name, err)
		}
	}
}

// EmitMutationSynced notifies all extensions that implement MutationSynced.
func (r *Registry) EmitMutationSynced(ctx context.Context, m *mutation.Mutation, elapsed time.Duration) {
	for _, e := range r.mutationSynced {
		if err := e.hook.OnMutationSynced(ctx, m, elapsed); err != nil {
			r.logHookError("OnMutationSynced", e.name, err)
		}
	}
}

// EmitMutationRetrying notifies all extensions that implement MutationRetrying.
func (r *Registry) EmitMutationRetrying(ctx context.Context, m *mutation.Mutation, attempt int, nextRunAt time.Time) {
	for _, e := range r.mutationRetrying {
		if err := e.hook.OnMutationRetrying(ctx, m, attempt, nextRunAt); err != nil {
			r.logHookError("OnMutationRetrying", e.name, err)
		}
	}
}

// EmitMutationDeadLettered notifies all extensions that implement MutationDeadLettered.
func (r *Registry) EmitMutationDeadLettered(ctx context.Context, m *mutation.Mutation, mutErr error) {
	for _, e := range r.mutationDeadLettered {
		if err := e.hook.OnMutationDeadLettered(ctx, m, mutErr); err != nil {
			r.logHookError("OnMutationDeadLettered", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Sync pass emitters
// ──────────────────────────────────────────────────

// EmitPassStarted notifies all extensions that implement PassStarted.
func (r *Registry) EmitPassStarted(ctx context.Context, passID id.PassID, trigger string) {
	for _, e := range r.passStarted {
		if err := e.hook.OnPassStarted(ctx, passID, trigger); err != nil {
			r.logHookError("OnPassStarted", e.name, err)
		}
	}
}

// EmitPassFinished notifies all extensions that implement PassFinished.
func (r *Registry) EmitPassFinished(ctx context.Context, passID id.PassID, synced, failed int, elapsed time.Duration) {
	for _, e := range r.passFinished {
		if err := e.hook.OnPassFinished(ctx, passID, synced, failed, elapsed); err != nil {
			r.logHookError("OnPassFinished", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Recovery, export, and shutdown emitters
// ──────────────────────────────────────────────────

// EmitDeadLettersRecovered notifies all extensions that implement DeadLettersRecovered.
func (r *Registry) EmitDeadLettersRecovered(ctx context.Context, count int64) {
	for _, e := range r.deadLettersRecovered {
		if err := e.hook.OnDeadLettersRecovered(ctx, count); err != nil {
			r.logHookError("OnDeadLettersRecovered", e.name, err)
		}
	}
}

// EmitExportCreated notifies all extensions that implement ExportCreated.
func (r *Registry) EmitExportCreated(ctx context.Context, f *export.File) {
	for _, e := range r.exportCreated {
		if err := e.hook.OnExportCreated(ctx, f); err != nil {
			r.logHookError("OnExportCreated", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
