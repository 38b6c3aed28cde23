package mutation

import (
	"context"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/id"
)

// ListOpts controls pagination and filtering for mutation list queries.
type ListOpts struct {
	// Limit is the maximum number of mutations to return. Zero means no limit.
	Limit int
	// Offset is the number of mutations to skip.
	Offset int
	// EntityType filters by entity type. Empty means all types.
	EntityType EntityType
}

// CountOpts controls filtering for mutation count queries.
type CountOpts struct {
	// EntityType filters by entity type. Empty means all types.
	EntityType EntityType
	// State filters by mutation state. Empty means all states.
	State State
}

// Store defines the persistence contract for the mutation queue.
type Store interface {
	// EnqueueMutation persists a new mutation in pending state.
	EnqueueMutation(ctx context.Context, m *Mutation) error

	// DequeueMutations atomically claims up to limit eligible mutations
	// (pending or retrying, with RunAt in the past) for the given entity
	// types, sets them to inflight, and returns them. Mutations are ordered
	// by RunAt then CreatedAt so offline edits replay in causal order.
	DequeueMutations(ctx context.Context, entityTypes []EntityType, limit int) ([]*Mutation, error)

	// GetMutation retrieves a mutation by ID.
	GetMutation(ctx context.Context, mutationID id.MutationID) (*Mutation, error)

	// UpdateMutation persists changes to an existing mutation.
	UpdateMutation(ctx context.Context, m *Mutation) error

	// DeleteMutation removes a mutation by ID.
	DeleteMutation(ctx context.Context, mutationID id.MutationID) error

	// ListMutationsByState returns mutations matching the given state.
	ListMutationsByState(ctx context.Context, state State, opts ListOpts) ([]*Mutation, error)

	// HeartbeatMutation updates the heartbeat timestamp for an inflight
	// mutation, indicating the applying worker is still alive.
	HeartbeatMutation(ctx context.Context, mutationID id.MutationID) error

	// ReapStaleInflight returns inflight mutations whose last heartbeat is
	// older than the given threshold, indicating the process crashed while
	// applying them.
	ReapStaleInflight(ctx context.Context, threshold time.Duration) ([]*Mutation, error)

	// CountMutations returns the number of mutations matching the options.
	CountMutations(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeSynced removes synced mutations older than the given cutoff and
	// returns how many were removed. Keeps on-device storage bounded.
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)
}
