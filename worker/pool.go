package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Pool implements deadletter.SyncTrigger: recovery kicks a pass without
// waiting for the poll interval.
var _ deadletter.SyncTrigger = (*Pool)(nil)

// QueueManager controls per-entity-type and per-user rate limiting and
// concurrency. The pool calls Acquire before applying a dequeued mutation
// and Release after application completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the entity-type/user
	// combination. Returns true if the mutation is allowed to proceed.
	Acquire(entityType mutation.EntityType, userID string) bool
	// Release decrements the active count for the entity-type/user pair.
	Release(entityType mutation.EntityType, userID string)
}

// Pool drains the mutation queue in sync passes. A pass dequeues eligible
// mutations in batches and applies them through the Executor with bounded
// concurrency until the queue is empty. Passes run on a poll schedule and
// on demand via SyncNow.
type Pool struct {
	store        mutation.Store
	executor     *Executor
	hooks        *hook.Registry
	concurrency  int
	entityTypes  []mutation.EntityType
	pollInterval time.Duration
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval      time.Duration
	staleInflightThreshold time.Duration

	// Queue manager (optional).
	queueManager QueueManager

	// syncNow has capacity 1 so that any number of concurrent SyncNow
	// calls during a running pass coalesce into exactly one follow-up pass.
	syncNow chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of mutations applied concurrently
// within a pass.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolEntityTypes sets the entity types the pool will drain.
func WithPoolEntityTypes(types []mutation.EntityType) PoolOption {
	return func(p *Pool) { p.entityTypes = types }
}

// WithPollInterval sets how often a pass runs without an explicit trigger.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// inflight mutations. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleInflightThreshold sets the threshold after which inflight
// mutations without a heartbeat are considered orphaned by a crash and
// reset to pending. A zero value disables reaping.
func WithStaleInflightThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleInflightThreshold = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a sync pass pool.
func NewPool(
	store mutation.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		hooks:        hooks,
		concurrency:  4,
		entityTypes:  mutation.KnownEntityTypes(),
		pollInterval: 5 * time.Second,
		logger:       logger,
		syncNow:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SyncNow requests an immediate sync pass and returns without waiting for
// it. Requests made while a pass is running coalesce into one follow-up
// pass, so callers can fire this repeatedly without stacking work.
func (p *Pool) SyncNow() {
	select {
	case p.syncNow <- struct{}{}:
	default:
	}
}

// Start launches the pass loop and maintenance goroutines. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("sync pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Any("entity_types", p.entityTypes),
		slog.Duration("poll_interval", p.pollInterval),
	)

	p.wg.Add(1)
	go p.passLoop()

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch reaper goroutine if configured.
	if p.staleInflightThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals the pool to stop and waits for the current pass to finish.
// If the context has a deadline, inflight applies are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("sync pool stopping")

	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("sync pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("sync pool shutdown timed out, cancelling inflight mutations")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// passLoop runs sync passes on the poll schedule and on SyncNow triggers.
func (p *Pool) passLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runPass("poll")
		case <-p.syncNow:
			p.runPass("manual")
		}
	}
}

// runPass drains the eligible queue: dequeue a batch, apply it with
// bounded concurrency, repeat until the queue comes back empty.
func (p *Pool) runPass(trigger string) {
	ctx := context.Background()
	passID := id.NewPassID()
	start := time.Now()

	p.hooks.EmitPassStarted(ctx, passID, trigger)

	var synced, failed int
	for !p.stopped() {
		batch, err := p.store.DequeueMutations(ctx, p.entityTypes, p.concurrency)
		if err != nil {
			p.logger.Error("dequeue error",
				slog.String("pass_id", passID.String()),
				slog.String("error", err.Error()),
			)
			break
		}
		if len(batch) == 0 {
			break
		}

		s, f := p.applyBatch(ctx, batch)
		synced += s
		failed += f
	}

	p.hooks.EmitPassFinished(ctx, passID, synced, failed, time.Since(start))

	if synced > 0 || failed > 0 {
		p.logger.Info("sync pass finished",
			slog.String("pass_id", passID.String()),
			slog.String("trigger", trigger),
			slog.Int("synced", synced),
			slog.Int("failed", failed),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

// applyBatch applies one dequeued batch concurrently and reports how many
// mutations synced and how many failed. Rate-limited mutations are returned
// to the queue and counted as neither.
func (p *Pool) applyBatch(ctx context.Context, batch []*mutation.Mutation) (synced, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, m := range batch {
		// Check entity-type/user rate limit and concurrency.
		if p.queueManager != nil && !p.queueManager.Acquire(m.EntityType, m.UserID) {
			p.requeueRateLimited(ctx, m)
			continue
		}

		wg.Add(1)
		go func(m *mutation.Mutation) {
			defer wg.Done()
			if p.queueManager != nil {
				defer p.queueManager.Release(m.EntityType, m.UserID)
			}

			ok := p.applyOne(ctx, m)

			mu.Lock()
			if ok {
				synced++
			} else {
				failed++
			}
			mu.Unlock()
		}(m)
	}

	wg.Wait()
	return synced, failed
}

// applyOne runs a single mutation through the executor, tracking it so
// heartbeats cover it and shutdown can cancel it.
func (p *Pool) applyOne(parent context.Context, m *mutation.Mutation) bool {
	p.hooks.EmitMutationStarted(parent, m)

	ctx, cancel := context.WithCancel(parent)
	p.trackMutation(m.ID.String(), cancel)

	execErr := p.executor.Execute(ctx, m)
	if execErr != nil {
		p.logger.Debug("mutation apply failed",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", string(m.EntityType)),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackMutation(m.ID.String())
	cancel()

	return execErr == nil
}

// requeueRateLimited returns a denied mutation to pending with a small
// delay so the next pass picks it up.
func (p *Pool) requeueRateLimited(ctx context.Context, m *mutation.Mutation) {
	m.State = mutation.StatePending
	m.RunAt = time.Now().Add(p.pollInterval)
	if updateErr := p.store.UpdateMutation(ctx, m); updateErr != nil {
		p.logger.Error("failed to re-enqueue rate-limited mutation",
			slog.String("mutation_id", m.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all inflight mutations.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	ids := make([]string, 0, len(p.active))
	for mutationID := range p.active {
		ids = append(ids, mutationID)
	}
	p.activeMu.Unlock()

	for _, idStr := range ids {
		parsedID, parseErr := id.ParseMutationID(idStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid mutation id", slog.String("mutation_id", idStr))
			continue
		}
		if err := p.store.HeartbeatMutation(context.Background(), parsedID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("mutation_id", idStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically resets inflight mutations whose heartbeat has
// expired, recovering work orphaned by a crash mid-apply.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleInflightThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleInflight()
		}
	}
}

func (p *Pool) reapStaleInflight() {
	stale, err := p.store.ReapStaleInflight(context.Background(), p.staleInflightThreshold)
	if err != nil {
		p.logger.Error("reap stale inflight error", slog.String("error", err.Error()))
		return
	}

	for _, m := range stale {
		m.State = mutation.StatePending
		m.RunAt = time.Now().UTC()
		m.HeartbeatAt = nil
		m.StartedAt = nil

		if updateErr := p.store.UpdateMutation(context.Background(), m); updateErr != nil {
			p.logger.Error("reap: failed to reset stale mutation",
				slog.String("mutation_id", m.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reaped stale inflight mutation",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", string(m.EntityType)),
		)
	}
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Pool) trackMutation(mutationID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[mutationID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackMutation(mutationID string) {
	p.activeMu.Lock()
	delete(p.active, mutationID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for mutationID, cancel := range p.active {
		p.logger.Warn("cancelling inflight mutation", slog.String("mutation_id", mutationID))
		cancel()
	}
}
