package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// SyncTrigger requests an immediate sync pass without waiting for it.
// worker.Pool implements this.
type SyncTrigger interface {
	SyncNow()
}

// Exporter serializes a dead-letter set to a file and hands it to a share
// mechanism. export.Service implements this.
type Exporter interface {
	Export(ctx context.Context, items []*mutation.Mutation) (*export.File, error)
	Share(ctx context.Context, f *export.File) error
}

var _ Exporter = (*export.Service)(nil)

// RetryResult reports the outcome of a bulk recovery.
type RetryResult struct {
	// Recovered is the number of mutations returned to the active queue.
	Recovered int64 `json:"recovered"`
}

// Service bridges the dead-letter store and the user-triggerable bulk
// operations: load, recover-all, and export. It owns no retry policy; the
// sync engine alone decides when a mutation becomes dead-lettered, and
// this service only observes the set and issues commands against it.
//
// Each logical command carries its own in-flight flag. Commands are not
// cancellable once started; callers prevent re-entry instead, and the
// flags are exposed so any frontend can disable its controls while an
// operation runs.
type Service struct {
	store    Store
	trigger  SyncTrigger
	exporter Exporter
	hooks    *hook.Registry
	logger   *slog.Logger

	group   singleflight.Group
	loading atomic.Bool

	// cached holds the last successfully loaded set, served when a store
	// read fails.
	mu     sync.RWMutex
	cached []*mutation.Mutation

	recovering atomic.Bool
	exporting  atomic.Bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSyncTrigger sets the sync engine trigger fired after recovery.
func WithSyncTrigger(t SyncTrigger) ServiceOption {
	return func(s *Service) { s.trigger = t }
}

// WithExporter sets the exporter used by Export.
func WithExporter(e Exporter) ServiceOption {
	return func(s *Service) { s.exporter = e }
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(h *hook.Registry) ServiceOption {
	return func(s *Service) { s.hooks = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a dead-letter service over a store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		hooks:  hook.NewRegistry(slog.Default()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying dead-letter store for direct access to
// List, Count, and Purge operations.
func (s *Service) Store() Store { return s.store }

// Loading reports whether a load is currently reading the store.
func (s *Service) Loading() bool { return s.loading.Load() }

// Recovering reports whether a bulk recovery is in flight.
func (s *Service) Recovering() bool { return s.recovering.Load() }

// Exporting reports whether an export is in flight.
func (s *Service) Exporting() bool { return s.exporting.Load() }

// Load fetches the current dead-letter set, ordered by when each mutation
// was dead-lettered.
//
// Load never fails: when the store read errors, the previous successful
// result is served instead, so callers degrade to a stale (possibly empty)
// view rather than a broken one. The error is logged, not returned.
// Concurrent calls coalesce into a single store read, and repeated calls
// with no intervening writes return the same content.
func (s *Service) Load(ctx context.Context) []*mutation.Mutation {
	v, _, _ := s.group.Do("load", func() (any, error) {
		s.loading.Store(true)
		defer s.loading.Store(false)

		items, err := s.store.ListDeadLetters(ctx, ListOpts{})
		if err != nil {
			s.logger.Error("dead-letter load failed, serving stale view",
				slog.Any("error", err),
			)
			return s.snapshot(), nil
		}
		if items == nil {
			items = []*mutation.Mutation{}
		}

		s.mu.Lock()
		s.cached = items
		s.mu.Unlock()
		return items, nil
	})
	return append([]*mutation.Mutation(nil), v.([]*mutation.Mutation)...)
}

// snapshot returns a copy of the cached set. Empty, never nil.
func (s *Service) snapshot() []*mutation.Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return []*mutation.Mutation{}
	}
	return append([]*mutation.Mutation(nil), s.cached...)
}

// RecoverAll returns every dead-lettered mutation to the active queue in
// one atomic bulk transition, then prompts the sync engine to run a pass.
//
// The trigger is fire-and-forget and fires exactly once per successful
// call; RecoverAll does not await the pass, so a reload right after may
// still observe some of the recovered items until the pass catches up.
// A store failure is returned without firing the trigger, and no partial
// state is committed. A second call while one is in flight fails with
// fitsync.ErrRecoveryInFlight.
func (s *Service) RecoverAll(ctx context.Context) (*RetryResult, error) {
	if !s.recovering.CompareAndSwap(false, true) {
		return nil, fitsync.ErrRecoveryInFlight
	}
	defer s.recovering.Store(false)

	count, err := s.store.RecoverDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("fitsync/deadletter: recover: %w", err)
	}

	if s.trigger != nil {
		s.trigger.SyncNow()
	}
	s.hooks.EmitDeadLettersRecovered(ctx, count)
	s.logger.Info("dead letters recovered",
		slog.Int64("count", count),
	)

	return &RetryResult{Recovered: count}, nil
}

// Export serializes the full dead-letter set to a fresh file and hands it
// to the configured share mechanism.
//
// Each call produces a new independent file; handles do not survive
// process restarts. Unlike Load, Export reads the store directly and
// fails when the read fails. When the file was written but sharing
// failed, the file is returned together with the share error so the
// caller can retry the share alone. A second call while one is in flight
// fails with fitsync.ErrExportInFlight.
func (s *Service) Export(ctx context.Context) (*export.File, error) {
	if !s.exporting.CompareAndSwap(false, true) {
		return nil, fitsync.ErrExportInFlight
	}
	defer s.exporting.Store(false)

	if s.exporter == nil {
		return nil, fmt.Errorf("fitsync/deadletter: export: no exporter configured")
	}

	items, err := s.store.ListDeadLetters(ctx, ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("fitsync/deadletter: export: list: %w", err)
	}

	f, err := s.exporter.Export(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("fitsync/deadletter: export: %w", err)
	}
	s.hooks.EmitExportCreated(ctx, f)

	if err := s.exporter.Share(ctx, f); err != nil {
		return f, fmt.Errorf("fitsync/deadletter: share: %w", err)
	}
	return f, nil
}
