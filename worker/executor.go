// Package worker provides the sync execution engine — an Executor that
// pushes single mutations through middleware and the registered applier,
// and a Pool that drains the queue in sync passes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/backoff"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/middleware"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Executor applies a single mutation through middleware and the registered
// applier, then handles retry scheduling, dead-lettering, state updates,
// and lifecycle events.
type Executor struct {
	registry *mutation.Registry
	hooks    *hook.Registry
	store    mutation.Store
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *mutation.Registry,
	hooks *hook.Registry,
	store mutation.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute applies a mutation through the middleware chain and applier.
// On success: marks synced, emits MutationSynced.
// On transient failure with budget remaining: marks retrying with backoff,
// emits MutationRetrying.
// On permanent failure or exhausted budget: marks dead, emits
// MutationDeadLettered. The mutation stays queryable in the dead-letter set
// until recovered or purged.
func (e *Executor) Execute(ctx context.Context, m *mutation.Mutation) error {
	start := time.Now()

	applier, ok := e.registry.Get(m.EntityType)
	if !ok {
		// No applier can ever succeed for this mutation; retrying would
		// burn the budget on a configuration error.
		now := time.Now().UTC()
		m.UpdatedAt = now
		return e.handleFailure(ctx, m,
			fitsync.Permanent(fmt.Errorf("%w: %s", fitsync.ErrUnknownEntityType, m.EntityType)), now)
	}

	// The terminal handler that calls the registered applier.
	terminal := func(ctx context.Context) error {
		return applier.Apply(ctx, m)
	}

	// Run through middleware chain.
	err := e.mw(ctx, m, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	m.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, m, err, now)
	}

	return e.handleSuccess(ctx, m, now, elapsed)
}

// handleSuccess marks the mutation as synced and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, m *mutation.Mutation, now time.Time, elapsed time.Duration) error {
	m.State = mutation.StateSynced
	m.SyncedAt = &now

	if updateErr := e.store.UpdateMutation(ctx, m); updateErr != nil {
		e.logger.Error("failed to update mutation after sync",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", string(m.EntityType)),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitMutationSynced(ctx, m, elapsed)
	return nil
}

// handleFailure increments the retry counter and either schedules a retry
// or dead-letters the mutation. Permanent failures skip the remaining
// budget: a 4xx rejection will never succeed no matter how often it is
// replayed.
func (e *Executor) handleFailure(ctx context.Context, m *mutation.Mutation, applyErr error, now time.Time) error {
	m.RetryCount++
	m.LastError = applyErr.Error()

	if !fitsync.IsPermanent(applyErr) && m.RetryCount <= m.MaxRetries {
		return e.scheduleRetry(ctx, m, applyErr, now)
	}

	return e.deadLetter(ctx, m, applyErr, now)
}

// scheduleRetry sets the mutation to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, m *mutation.Mutation, applyErr error, now time.Time) error {
	delay := e.backoff.Delay(m.RetryCount)
	nextRunAt := now.Add(delay)
	m.RunAt = nextRunAt
	m.State = mutation.StateRetrying

	if updateErr := e.store.UpdateMutation(ctx, m); updateErr != nil {
		e.logger.Error("failed to update mutation for retry",
			slog.String("mutation_id", m.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitMutationRetrying(ctx, m, m.RetryCount, nextRunAt)

	e.logger.Info("mutation scheduled for retry",
		slog.String("mutation_id", m.ID.String()),
		slog.String("entity_type", string(m.EntityType)),
		slog.Int("attempt", m.RetryCount),
		slog.Int("max_retries", m.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("mutation %s attempt %d/%d: %w", m.ID, m.RetryCount, m.MaxRetries, applyErr)
}

// deadLetter marks the mutation as dead and emits lifecycle events.
func (e *Executor) deadLetter(ctx context.Context, m *mutation.Mutation, applyErr error, now time.Time) error {
	m.State = mutation.StateDead
	m.DeadAt = &now

	if updateErr := e.store.UpdateMutation(ctx, m); updateErr != nil {
		e.logger.Error("failed to update mutation as dead",
			slog.String("mutation_id", m.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitMutationDeadLettered(ctx, m, applyErr)

	e.logger.Warn("mutation dead-lettered",
		slog.String("mutation_id", m.ID.String()),
		slog.String("entity_type", string(m.EntityType)),
		slog.String("entity_id", m.EntityID),
		slog.Int("retry_count", m.RetryCount),
		slog.Bool("permanent", fitsync.IsPermanent(applyErr)),
		slog.String("error", applyErr.Error()),
	)

	return applyErr
}
