package memory

import (
	"context"
	"sort"
	"sync"
	"time"

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

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development;
// nothing survives a process restart.
type Store struct {
	mu        sync.RWMutex
	mutations map[string]*mutation.Mutation
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		mutations: make(map[string]*mutation.Mutation),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Mutation Store
// ──────────────────────────────────────────────────

// EnqueueMutation persists a new mutation in pending state.
func (m *Store) EnqueueMutation(_ context.Context, mut *mutation.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mut.ID.String()
	if _, exists := m.mutations[key]; exists {
		return fitsync.ErrMutationExists
	}
	cp := *mut
	m.mutations[key] = &cp
	return nil
}

// DequeueMutations atomically claims up to limit eligible mutations for
// the given entity types, sets them to inflight, and returns them.
func (m *Store) DequeueMutations(_ context.Context, entityTypes []mutation.EntityType, limit int) ([]*mutation.Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeSet := make(map[mutation.EntityType]struct{}, len(entityTypes))
	for _, et := range entityTypes {
		typeSet[et] = struct{}{}
	}

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*mutation.Mutation, 0, len(m.mutations))
	for _, mut := range m.mutations {
		if mut.State != mutation.StatePending && mut.State != mutation.StateRetrying {
			continue
		}
		if !mut.RunAt.IsZero() && mut.RunAt.After(now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[mut.EntityType]; !ok {
				continue
			}
		}
		candidates = append(candidates, mut)
	}

	// Sort: RunAt ASC, then CreatedAt ASC, so offline edits replay in
	// causal order.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*mutation.Mutation, len(candidates))
	for i, mut := range candidates {
		mut.State = mutation.StateInflight
		n := now
		mut.StartedAt = &n
		hb := now
		mut.HeartbeatAt = &hb
		// Return a copy so callers can mutate without racing with the store.
		cp := *mut
		result[i] = &cp
	}

	return result, nil
}

// GetMutation retrieves a mutation by ID.
func (m *Store) GetMutation(_ context.Context, mutationID id.MutationID) (*mutation.Mutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mut, ok := m.mutations[mutationID.String()]
	if !ok {
		return nil, fitsync.ErrMutationNotFound
	}
	cp := *mut
	return &cp, nil
}

// UpdateMutation persists changes to an existing mutation.
func (m *Store) UpdateMutation(_ context.Context, mut *mutation.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mut.ID.String()
	if _, ok := m.mutations[key]; !ok {
		return fitsync.ErrMutationNotFound
	}
	cp := *mut
	cp.UpdatedAt = time.Now().UTC()
	m.mutations[key] = &cp
	return nil
}

// DeleteMutation removes a mutation by ID.
func (m *Store) DeleteMutation(_ context.Context, mutationID id.MutationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mutationID.String()
	if _, ok := m.mutations[key]; !ok {
		return fitsync.ErrMutationNotFound
	}
	delete(m.mutations, key)
	return nil
}

// ListMutationsByState returns mutations matching the given state.
func (m *Store) ListMutationsByState(_ context.Context, state mutation.State, opts mutation.ListOpts) ([]*mutation.Mutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*mutation.Mutation, 0, len(m.mutations))
	for _, mut := range m.mutations {
		if mut.State != state {
			continue
		}
		if opts.EntityType != "" && mut.EntityType != opts.EntityType {
			continue
		}
		cp := *mut
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatMutation updates the heartbeat timestamp for an inflight mutation.
func (m *Store) HeartbeatMutation(_ context.Context, mutationID id.MutationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mut, ok := m.mutations[mutationID.String()]
	if !ok {
		return fitsync.ErrMutationNotFound
	}
	now := time.Now().UTC()
	mut.HeartbeatAt = &now
	return nil
}

// ReapStaleInflight returns inflight mutations whose last heartbeat is
// older than the given threshold.
func (m *Store) ReapStaleInflight(_ context.Context, threshold time.Duration) ([]*mutation.Mutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*mutation.Mutation
	for _, mut := range m.mutations {
		if mut.State != mutation.StateInflight {
			continue
		}
		if mut.HeartbeatAt != nil && mut.HeartbeatAt.Before(cutoff) {
			cp := *mut
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountMutations returns the number of mutations matching the given options.
func (m *Store) CountMutations(_ context.Context, opts mutation.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, mut := range m.mutations {
		if opts.EntityType != "" && mut.EntityType != opts.EntityType {
			continue
		}
		if opts.State != "" && mut.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeSynced removes synced mutations older than the given cutoff.
func (m *Store) PurgeSynced(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, mut := range m.mutations {
		if mut.State != mutation.StateSynced {
			continue
		}
		if mut.SyncedAt != nil && mut.SyncedAt.Before(before) {
			delete(m.mutations, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Dead-Letter Store
// ──────────────────────────────────────────────────

// ListDeadLetters returns dead-lettered mutations matching the given options.
func (m *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*mutation.Mutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*mutation.Mutation, 0, len(m.mutations))
	for _, mut := range m.mutations {
		if mut.State != mutation.StateDead {
			continue
		}
		if opts.EntityType != "" && mut.EntityType != opts.EntityType {
			continue
		}
		cp := *mut
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return deadAt(result[i]).Before(deadAt(result[k]))
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountDeadLetters returns the number of dead-lettered mutations.
func (m *Store) CountDeadLetters(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, mut := range m.mutations {
		if mut.State == mutation.StateDead {
			count++
		}
	}
	return count, nil
}

// RecoverDeadLetters atomically returns every dead-lettered mutation to
// the active queue. The store mutex makes the bulk transition atomic:
// readers observe either the full dead set or none of it.
func (m *Store) RecoverDeadLetters(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, mut := range m.mutations {
		if mut.State != mutation.StateDead {
			continue
		}
		mut.State = mutation.StatePending
		mut.RetryCount = 0
		mut.RunAt = now
		mut.DeadAt = nil
		mut.UpdatedAt = now
		count++
	}
	return count, nil
}

// PurgeDeadLetters removes dead-lettered mutations with DeadAt before the
// given time.
func (m *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, mut := range m.mutations {
		if mut.State != mutation.StateDead {
			continue
		}
		if mut.DeadAt != nil && mut.DeadAt.Before(before) {
			delete(m.mutations, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

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
