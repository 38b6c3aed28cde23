package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/backoff"
	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/janitor"
	mw "github.com/saicgr/AIFitnessCoach-sub010/middleware"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/observability"
	"github.com/saicgr/AIFitnessCoach-sub010/queue"
	"github.com/saicgr/AIFitnessCoach-sub010/scope"
	"github.com/saicgr/AIFitnessCoach-sub010/status"
	"github.com/saicgr/AIFitnessCoach-sub010/worker"
)

// Engine wraps an Agent with typed subsystem access.
// Use Build() to create one from an Agent.
type Engine struct {
	a        *fitsync.Agent
	hooks    *hook.Registry
	registry *mutation.Registry
	mutStore mutation.Store
	dlStore  deadletter.Store
	bo       backoff.Strategy
	pool     *worker.Pool
	mws      []mw.Middleware
	logger   *slog.Logger

	// Dead-letter subsystem.
	dlService *deadletter.Service
	exporter  *export.Service
	exportDir string
	sharer    export.Sharer

	// Status subsystem.
	tracker   *status.Tracker
	statusExt *status.Extension

	// Maintenance subsystem.
	jan        *janitor.Janitor
	extraTasks []janitor.Task

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Prometheus registerer (optional; nil means the default registerer).
	registerer prometheus.Registerer
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers per-entity-type rate limiting and concurrency
// configurations. Entity types not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithExportDir sets the directory dead-letter exports are written to.
// Defaults to the OS temp directory.
func WithExportDir(dir string) Option {
	return func(eng *Engine) {
		eng.exportDir = dir
	}
}

// WithSharer sets the share mechanism exports are handed to after being
// written. Without one, sharing is a no-op.
func WithSharer(sh export.Sharer) Option {
	return func(eng *Engine) {
		eng.sharer = sh
	}
}

// WithJanitorTask adds maintenance tasks to the janitor beyond the
// built-in retention purges.
func WithJanitorTask(tasks ...janitor.Task) Option {
	return func(eng *Engine) {
		eng.extraTasks = append(eng.extraTasks, tasks...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithPrometheusRegisterer sets the registerer the observability metrics
// extension registers its collectors with. If not set, the default
// registerer is used. Inject prometheus.NewRegistry() when building more
// than one engine per process.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(eng *Engine) {
		eng.registerer = reg
	}
}

// Build creates an Engine from an existing Agent.
// The Agent's store must implement mutation.Store and deadletter.Store.
func Build(a *fitsync.Agent, opts ...Option) (*Engine, error) {
	logger := a.Logger()
	store := a.Store()

	if store == nil {
		return nil, fitsync.ErrNoStore
	}

	// Type-assert the store to get the mutation.Store interface.
	ms, ok := store.(mutation.Store)
	if !ok {
		return nil, fmt.Errorf("fitsync: store does not implement mutation.Store")
	}

	// Type-assert the store to get the deadletter.Store interface.
	ds, ok := store.(deadletter.Store)
	if !ok {
		return nil, fmt.Errorf("fitsync: store does not implement deadletter.Store")
	}

	eng := &Engine{
		a:        a,
		hooks:    hook.NewRegistry(logger),
		registry: mutation.NewRegistry(),
		mutStore: ms,
		dlStore:  ds,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Create the export service.
	exportOpts := []export.Option{export.WithLogger(logger)}
	if eng.exportDir != "" {
		exportOpts = append(exportOpts, export.WithDir(eng.exportDir))
	}
	if eng.sharer != nil {
		exportOpts = append(exportOpts, export.WithSharer(eng.sharer))
	}
	eng.exporter = export.NewService(exportOpts...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/saicgr/AIFitnessCoach-sub010")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/saicgr/AIFitnessCoach-sub010")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.registerer != nil {
		obsExt = observability.NewMetricsExtensionWithRegisterer(eng.registerer)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	// Register the status tracker extension.
	eng.tracker = status.NewTracker()
	eng.statusExt = status.NewExtension(eng.tracker)
	eng.hooks.Register(eng.statusExt)

	// Build default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	config := a.Config()
	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.mutStore, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleInflightThreshold(config.StaleInflightThreshold),
	}
	if len(config.EntityTypes) > 0 {
		types := make([]mutation.EntityType, 0, len(config.EntityTypes))
		for _, et := range config.EntityTypes {
			types = append(types, mutation.EntityType(et))
		}
		poolOpts = append(poolOpts, worker.WithPoolEntityTypes(types))
	}

	// Create queue manager if queue configs were provided.
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(
		eng.mutStore,
		executor,
		eng.hooks,
		logger,
		poolOpts...,
	)

	// Wire back into the Agent.
	a.SetPool(eng.pool)
	a.SetHooks(eng.hooks)

	// Create the dead-letter service with the pool as its sync trigger.
	eng.dlService = deadletter.NewService(ds,
		deadletter.WithSyncTrigger(eng.pool),
		deadletter.WithExporter(eng.exporter),
		deadletter.WithHooks(eng.hooks),
		deadletter.WithLogger(logger),
	)

	// Create the janitor with retention purges and any extra tasks.
	eng.jan = janitor.New(logger)
	if config.SyncedRetention > 0 {
		if err := eng.jan.Register(janitor.PurgeSynced(eng.mutStore, config.SyncedRetention)); err != nil {
			return nil, err
		}
	}
	if config.DeadLetterRetention > 0 {
		if err := eng.jan.Register(janitor.PurgeDeadLetters(eng.dlStore, config.DeadLetterRetention)); err != nil {
			return nil, err
		}
	}
	for _, t := range eng.extraTasks {
		if err := eng.jan.Register(t); err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// Register registers a typed mutation applier with the engine.
func Register[T any](eng *Engine, def *mutation.Definition[T]) {
	mutation.RegisterDefinition(eng.registry, def)
}

// Enqueue serializes doc and enqueues a mutation against the given entity.
func Enqueue[T any](ctx context.Context, eng *Engine, entityType mutation.EntityType, op mutation.Operation, entityID string, doc T, opts ...mutation.Option) (*mutation.Mutation, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s %s: %w", entityType, entityID, err)
	}

	return eng.EnqueueRaw(ctx, entityType, op, entityID, data, opts...)
}

// EnqueueRaw enqueues a mutation with a pre-serialized payload. The user
// and device scope are captured from ctx (see the scope package).
func (eng *Engine) EnqueueRaw(ctx context.Context, entityType mutation.EntityType, op mutation.Operation, entityID string, payload []byte, opts ...mutation.Option) (*mutation.Mutation, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: %s", fitsync.ErrUnknownEntityType, entityType)
	}

	// Capture scope from context.
	userID, deviceStr := scope.Capture(ctx)
	var deviceID id.DeviceID
	if deviceStr != "" {
		if did, err := id.ParseDeviceID(deviceStr); err == nil {
			deviceID = did
		}
	}

	now := time.Now().UTC()
	m := &mutation.Mutation{
		Entity:     fitsync.NewEntity(),
		ID:         id.NewMutationID(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		State:      mutation.StatePending,
		RunAt:      now,
		UserID:     userID,
		DeviceID:   deviceID,
	}

	// Apply functional options over the agent-level defaults.
	mutOpts := mutation.DefaultOptions()
	mutOpts.MaxRetries = eng.a.Config().MaxRetries
	for _, opt := range opts {
		opt(&mutOpts)
	}
	m.MaxRetries = mutOpts.MaxRetries
	m.Timeout = mutOpts.Timeout
	if !mutOpts.RunAt.IsZero() {
		m.RunAt = mutOpts.RunAt
	}

	if err := eng.mutStore.EnqueueMutation(ctx, m); err != nil {
		return nil, err
	}

	eng.hooks.EmitMutationEnqueued(ctx, m)
	return m, nil
}

// SyncNow requests an immediate sync pass without waiting for it.
func (eng *Engine) SyncNow() {
	eng.pool.SyncNow()
}

// Start begins sync processing by starting the janitor and worker pool.
// The status tracker is primed from authoritative store counts first.
func (eng *Engine) Start(ctx context.Context) error {
	eng.primeStatus(ctx)

	if err := eng.jan.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	return eng.a.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.jan.Stop(ctx); err != nil {
		eng.logger.Error("janitor stop error", slog.String("error", err.Error()))
	}

	return eng.a.Stop(ctx)
}

// primeStatus seeds the status tracker from store counts. Best-effort:
// a failed count leaves the tracker at zero and the hooks catch up from
// there.
func (eng *Engine) primeStatus(ctx context.Context) {
	var depth int64
	for _, st := range []mutation.State{mutation.StatePending, mutation.StateRetrying, mutation.StateInflight} {
		n, err := eng.mutStore.CountMutations(ctx, mutation.CountOpts{State: st})
		if err != nil {
			eng.logger.Warn("status prime failed",
				slog.String("state", string(st)),
				slog.String("error", err.Error()),
			)
			return
		}
		depth += n
	}

	dead, err := eng.dlStore.CountDeadLetters(ctx)
	if err != nil {
		eng.logger.Warn("status prime failed",
			slog.String("state", string(mutation.StateDead)),
			slog.String("error", err.Error()),
		)
		return
	}

	eng.statusExt.Prime(depth, dead)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the applier registry.
func (eng *Engine) Registry() *mutation.Registry { return eng.registry }

// Agent returns the underlying Agent.
func (eng *Engine) Agent() *fitsync.Agent { return eng.a }

// Store returns the engine's mutation store.
func (eng *Engine) Store() mutation.Store { return eng.mutStore }

// DeadLetters returns the engine's dead-letter service for recovery and
// export.
func (eng *Engine) DeadLetters() *deadletter.Service { return eng.dlService }

// Exporter returns the export service.
func (eng *Engine) Exporter() *export.Service { return eng.exporter }

// Tracker returns the status tracker.
func (eng *Engine) Tracker() *status.Tracker { return eng.tracker }

// Status returns the current status snapshot.
func (eng *Engine) Status() status.Snapshot { return eng.tracker.Current() }

// Janitor returns the maintenance janitor.
func (eng *Engine) Janitor() *janitor.Janitor { return eng.jan }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
