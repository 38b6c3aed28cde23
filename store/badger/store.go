package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Compile-time checks that Store satisfies each subsystem contract.
var (
	_ mutation.Store   = (*Store)(nil)
	_ deadletter.Store = (*Store)(nil)
)

// mutPrefix namespaces mutation entries. Keys are "mut:" + the mutation
// TypeID, which sorts roughly by creation time.
const mutPrefix = "mut:"

// Store persists mutations in an embedded badger database. It is the
// on-device backend: one process owns the data directory and the whole
// mutation set is small enough to scan per query.
type Store struct {
	db         *badger.DB
	logger     *slog.Logger
	syncWrites bool
	gcInterval time.Duration
	gcRatio    float64

	// mu serializes write transactions. Overlapping read-write
	// transactions would trip badger's conflict detection and surface
	// ErrConflict to one of the writers.
	mu sync.Mutex

	stopGC chan struct{}
	doneGC chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store and badger-internal messages.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithSyncWrites controls whether each write is fsynced before the call
// returns. On by default: a queued mutation is a user's workout, and it
// must survive the app being killed mid-write.
func WithSyncWrites(sync bool) Option {
	return func(s *Store) { s.syncWrites = sync }
}

// WithGCInterval sets how often value-log garbage collection runs.
// Defaults to 5 minutes. Zero disables the collector.
func WithGCInterval(interval time.Duration) Option {
	return func(s *Store) { s.gcInterval = interval }
}

// New opens (creating if needed) a badger database at path and returns a
// Store backed by it. Call Close to stop the garbage collector and
// release the directory lock.
func New(path string, opts ...Option) (*Store, error) {
	s := newStore(opts)

	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("fitsync/badger: create data dir %s: %w", path, err)
	}

	bopts := badger.DefaultOptions(path).
		WithSyncWrites(s.syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: s.logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: open %s: %w", path, err)
	}
	s.db = db

	if s.gcInterval > 0 {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC()
	}
	return s, nil
}

// NewInMemory returns a Store backed by an in-memory badger instance.
// Nothing survives Close; value-log GC does not apply and never runs.
func NewInMemory(opts ...Option) (*Store, error) {
	s := newStore(opts)

	bopts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(&badgerLogger{logger: s.logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: open in-memory: %w", err)
	}
	s.db = db
	return s, nil
}

func newStore(opts []Option) *Store {
	s := &Store{
		logger:     slog.Default(),
		syncWrites: true,
		gcInterval: 5 * time.Minute,
		gcRatio:    0.5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying badger handle for diagnostics.
func (s *Store) DB() *badger.DB { return s.db }

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op: badger is schemaless, and the msgpack codec
// ignores fields it does not recognize when reading older entries.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fitsync.ErrStoreClosed
	}
	return nil
}

// Close stops the garbage collector, then closes the database. The data
// directory lock is released once Close returns.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

// runGC periodically reclaims value-log space. RunValueLogGC rewrites at
// most one log file per call, so each tick loops until badger reports
// nothing left to rewrite.
func (s *Store) runGC() {
	defer close(s.doneGC)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(s.gcRatio)
				if err != nil {
					// ErrNoRewrite means nothing to collect.
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("badger value log gc failed", "error", err)
					}
					break
				}
				s.logger.Debug("badger value log gc rewrote a file")
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Mutation Store
// ──────────────────────────────────────────────────

// EnqueueMutation persists a new mutation in pending state.
func (s *Store) EnqueueMutation(_ context.Context, m *mutation.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mutKey(m.ID)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fitsync.ErrMutationExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setMutation(txn, m)
	})
	if err != nil && !errors.Is(err, fitsync.ErrMutationExists) {
		return fmt.Errorf("fitsync/badger: enqueue mutation: %w", err)
	}
	return err
}

// DequeueMutations claims up to limit eligible mutations in a single
// write transaction, sets them to inflight, and returns them ordered by
// RunAt then CreatedAt.
func (s *Store) DequeueMutations(_ context.Context, entityTypes []mutation.EntityType, limit int) ([]*mutation.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	typeSet := make(map[mutation.EntityType]struct{}, len(entityTypes))
	for _, et := range entityTypes {
		typeSet[et] = struct{}{}
	}
	now := time.Now().UTC()

	var claimed []*mutation.Mutation
	err := s.db.Update(func(txn *badger.Txn) error {
		candidates, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			if m.State != mutation.StatePending && m.State != mutation.StateRetrying {
				return false
			}
			if !m.RunAt.IsZero() && m.RunAt.After(now) {
				return false
			}
			if len(typeSet) > 0 {
				if _, ok := typeSet[m.EntityType]; !ok {
					return false
				}
			}
			return true
		})
		if err != nil {
			return err
		}

		sort.Slice(candidates, func(i, k int) bool {
			if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
				return candidates[i].RunAt.Before(candidates[k].RunAt)
			}
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		})
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}

		for _, m := range candidates {
			m.State = mutation.StateInflight
			started := now
			m.StartedAt = &started
			hb := now
			m.HeartbeatAt = &hb
			m.UpdatedAt = now
			if err := setMutation(txn, m); err != nil {
				return err
			}
		}
		claimed = candidates
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: dequeue mutations: %w", err)
	}
	return claimed, nil
}

// GetMutation retrieves a mutation by ID.
func (s *Store) GetMutation(_ context.Context, mutationID id.MutationID) (*mutation.Mutation, error) {
	var m *mutation.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = getMutation(txn, mutKey(mutationID))
		return err
	})
	if err != nil {
		if errors.Is(err, fitsync.ErrMutationNotFound) {
			return nil, fitsync.ErrMutationNotFound
		}
		return nil, fmt.Errorf("fitsync/badger: get mutation: %w", err)
	}
	return m, nil
}

// UpdateMutation persists changes to an existing mutation.
func (s *Store) UpdateMutation(_ context.Context, m *mutation.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mutKey(m.ID)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fitsync.ErrMutationNotFound
			}
			return err
		}
		cp := *m
		cp.UpdatedAt = time.Now().UTC()
		return setMutation(txn, &cp)
	})
	if err != nil && !errors.Is(err, fitsync.ErrMutationNotFound) {
		return fmt.Errorf("fitsync/badger: update mutation: %w", err)
	}
	return err
}

// DeleteMutation removes a mutation by ID.
func (s *Store) DeleteMutation(_ context.Context, mutationID id.MutationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mutKey(mutationID)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fitsync.ErrMutationNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil && !errors.Is(err, fitsync.ErrMutationNotFound) {
		return fmt.Errorf("fitsync/badger: delete mutation: %w", err)
	}
	return err
}

// ListMutationsByState returns mutations matching the given state,
// ordered by CreatedAt.
func (s *Store) ListMutationsByState(_ context.Context, state mutation.State, opts mutation.ListOpts) ([]*mutation.Mutation, error) {
	var result []*mutation.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		result, err = scanMutations(txn, func(m *mutation.Mutation) bool {
			if m.State != state {
				return false
			}
			if opts.EntityType != "" && m.EntityType != opts.EntityType {
				return false
			}
			return true
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: list mutations: %w", err)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatMutation updates the heartbeat timestamp for an inflight mutation.
func (s *Store) HeartbeatMutation(_ context.Context, mutationID id.MutationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		m, err := getMutation(txn, mutKey(mutationID))
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		m.HeartbeatAt = &now
		return setMutation(txn, m)
	})
	if err != nil && !errors.Is(err, fitsync.ErrMutationNotFound) {
		return fmt.Errorf("fitsync/badger: heartbeat mutation: %w", err)
	}
	return err
}

// ReapStaleInflight returns inflight mutations whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleInflight(_ context.Context, threshold time.Duration) ([]*mutation.Mutation, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var stale []*mutation.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		stale, err = scanMutations(txn, func(m *mutation.Mutation) bool {
			return m.State == mutation.StateInflight &&
				m.HeartbeatAt != nil && m.HeartbeatAt.Before(cutoff)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: reap stale inflight: %w", err)
	}
	return stale, nil
}

// CountMutations returns the number of mutations matching the given options.
func (s *Store) CountMutations(_ context.Context, opts mutation.CountOpts) (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		matches, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			if opts.EntityType != "" && m.EntityType != opts.EntityType {
				return false
			}
			if opts.State != "" && m.State != opts.State {
				return false
			}
			return true
		})
		count = int64(len(matches))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fitsync/badger: count mutations: %w", err)
	}
	return count, nil
}

// PurgeSynced removes synced mutations older than the given cutoff.
func (s *Store) PurgeSynced(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.Update(func(txn *badger.Txn) error {
		victims, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			return m.State == mutation.StateSynced &&
				m.SyncedAt != nil && m.SyncedAt.Before(before)
		})
		if err != nil {
			return err
		}
		for _, m := range victims {
			if err := txn.Delete(mutKey(m.ID)); err != nil {
				return err
			}
		}
		count = int64(len(victims))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fitsync/badger: purge synced: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Dead-Letter Store
// ──────────────────────────────────────────────────

// ListDeadLetters returns dead-lettered mutations ordered by DeadAt.
func (s *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*mutation.Mutation, error) {
	var result []*mutation.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		result, err = scanMutations(txn, func(m *mutation.Mutation) bool {
			if m.State != mutation.StateDead {
				return false
			}
			if opts.EntityType != "" && m.EntityType != opts.EntityType {
				return false
			}
			return true
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fitsync/badger: list dead letters: %w", err)
	}

	sort.Slice(result, func(i, k int) bool {
		return deadAt(result[i]).Before(deadAt(result[k]))
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountDeadLetters returns the number of dead-lettered mutations.
func (s *Store) CountDeadLetters(_ context.Context) (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		matches, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			return m.State == mutation.StateDead
		})
		count = int64(len(matches))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fitsync/badger: count dead letters: %w", err)
	}
	return count, nil
}

// RecoverDeadLetters returns every dead-lettered mutation to the active
// queue. The whole transition commits in one write transaction: readers
// observe either the full dead set or none of it.
func (s *Store) RecoverDeadLetters(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.Update(func(txn *badger.Txn) error {
		dead, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			return m.State == mutation.StateDead
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, m := range dead {
			m.State = mutation.StatePending
			m.RetryCount = 0
			m.RunAt = now
			m.DeadAt = nil
			m.UpdatedAt = now
			if err := setMutation(txn, m); err != nil {
				return err
			}
		}
		count = int64(len(dead))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fitsync/badger: recover dead letters: %w", err)
	}
	return count, nil
}

// PurgeDeadLetters removes dead-lettered mutations with DeadAt before
// the given time.
func (s *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.Update(func(txn *badger.Txn) error {
		victims, err := scanMutations(txn, func(m *mutation.Mutation) bool {
			return m.State == mutation.StateDead &&
				m.DeadAt != nil && m.DeadAt.Before(before)
		})
		if err != nil {
			return err
		}
		for _, m := range victims {
			if err := txn.Delete(mutKey(m.ID)); err != nil {
				return err
			}
		}
		count = int64(len(victims))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fitsync/badger: purge dead letters: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func mutKey(mutationID id.MutationID) []byte {
	return []byte(mutPrefix + mutationID.String())
}

// setMutation encodes and writes a mutation under its key.
func setMutation(txn *badger.Txn, m *mutation.Mutation) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mutation %s: %w", m.ID, err)
	}
	return txn.Set(mutKey(m.ID), data)
}

// getMutation reads and decodes the mutation under key. Returns
// fitsync.ErrMutationNotFound when the key is absent.
func getMutation(txn *badger.Txn, key []byte) (*mutation.Mutation, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fitsync.ErrMutationNotFound
	}
	if err != nil {
		return nil, err
	}

	var m *mutation.Mutation
	err = item.Value(func(val []byte) error {
		var derr error
		m, derr = decodeMutation(val)
		return derr
	})
	return m, err
}

func decodeMutation(data []byte) (*mutation.Mutation, error) {
	var m mutation.Mutation
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mutation: %w", err)
	}
	return &m, nil
}

// scanMutations decodes every entry under the mutation prefix and keeps
// those the filter accepts. Decoded values are fresh copies, safe for
// callers to modify.
func scanMutations(txn *badger.Txn, keep func(*mutation.Mutation) bool) ([]*mutation.Mutation, error) {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = []byte(mutPrefix)

	it := txn.NewIterator(iterOpts)
	defer it.Close()

	var out []*mutation.Mutation
	for it.Rewind(); it.Valid(); it.Next() {
		var m *mutation.Mutation
		err := it.Item().Value(func(val []byte) error {
			var derr error
			m, derr = decodeMutation(val)
			return derr
		})
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// deadAt returns the mutation's DeadAt, or the zero time when unset.
func deadAt(m *mutation.Mutation) time.Time {
	if m.DeadAt == nil {
		return time.Time{}
	}
	return *m.DeadAt
}

// paginate applies offset and limit to an already-sorted result slice.
func paginate(result []*mutation.Mutation, offset, limit int) []*mutation.Mutation {
	if offset > 0 {
		if offset >= len(result) {
			return nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// badgerLogger adapts slog to badger's internal Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof maps to Debug: badger logs routine compaction chatter at info.
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
