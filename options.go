package fitsync

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Agent.
type Option func(*Agent) error

// Storer is the minimal store interface held by the Agent.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for hook lifecycle events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Agent is the central coordinator for offline sync: the mutation queue,
// the sync worker pool, and the dead-letter recovery workflow.
//
// Create one with New() and functional options. The Agent holds references
// to subsystem components via internal interfaces to avoid import cycles.
// Use engine.Build to wire everything together.
type Agent struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Agent with the given options.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Logger returns the agent's logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// Store returns the agent's store.
func (a *Agent) Store() Storer { return a.store }

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config { return a.config }

// SetPool sets the worker pool (called by the engine package).
func (a *Agent) SetPool(p poolRunner) { a.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (a *Agent) SetHooks(h hookEmitter) { a.hooks = h }

// Start begins background sync processing.
func (a *Agent) Start(ctx context.Context) error {
	if a.pool == nil {
		return ErrNoStore
	}
	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

// Stop gracefully shuts down the agent.
func (a *Agent) Stop(ctx context.Context) error {
	if a.pool != nil && a.started {
		if err := a.pool.Stop(ctx); err != nil {
			a.logger.Error("pool stop error", "error", err)
		}
	}
	if a.hooks != nil {
		a.hooks.EmitShutdown(ctx)
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent mutation applies.
func WithConcurrency(n int) Option {
	return func(a *Agent) error {
		a.config.Concurrency = n
		return nil
	}
}

// WithEntityTypes sets the entity types the agent will sync.
func WithEntityTypes(types []string) Option {
	return func(a *Agent) error {
		a.config.EntityTypes = types
		return nil
	}
}

// WithMaxRetries sets the default retry budget for new mutations.
func WithMaxRetries(n int) Option {
	return func(a *Agent) error {
		a.config.MaxRetries = n
		return nil
	}
}

// WithPollInterval sets how often the worker pool polls the queue.
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.PollInterval = d
		return nil
	}
}

// WithHeartbeatInterval sets how often inflight mutations are touched.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.HeartbeatInterval = d
		return nil
	}
}

// WithStaleInflightThreshold sets how long an inflight mutation may go
// without a heartbeat before it is returned to the pending queue.
func WithStaleInflightThreshold(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.StaleInflightThreshold = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.ShutdownTimeout = d
		return nil
	}
}

// WithSyncedRetention sets how long synced mutations are kept before the
// janitor purges them. Zero disables the purge.
func WithSyncedRetention(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.SyncedRetention = d
		return nil
	}
}

// WithDeadLetterRetention sets how long dead-lettered mutations are kept
// before the janitor purges them. Zero disables the purge.
func WithDeadLetterRetention(d time.Duration) Option {
	return func(a *Agent) error {
		a.config.DeadLetterRetention = d
		return nil
	}
}

// WithLogger sets the structured logger for the agent.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the agent.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(a *Agent) error {
		a.store = s
		return nil
	}
}
