package deadletter

import (
	"context"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// ListOpts controls pagination and filtering for dead-letter list queries.
type ListOpts struct {
	// Limit is the maximum number of mutations to return. Zero means no limit.
	Limit int
	// Offset is the number of mutations to skip.
	Offset int
	// EntityType filters by entity type. Empty means all types.
	EntityType mutation.EntityType
}

// Store defines the persistence contract for the dead-letter set.
//
// Dead letters are mutations in mutation.StateDead. Backends satisfy this
// interface with queries against the same records they manage for
// mutation.Store; there is no separate dead-letter table, so a recovered
// mutation leaves this view the moment its state flips back to pending.
type Store interface {
	// ListDeadLetters returns dead-lettered mutations matching the given
	// options, ordered by DeadAt ascending.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*mutation.Mutation, error)

	// CountDeadLetters returns the number of dead-lettered mutations.
	CountDeadLetters(ctx context.Context) (int64, error)

	// RecoverDeadLetters atomically returns every dead-lettered mutation to
	// the active queue: state back to pending, retry count zeroed, RunAt set
	// to now, DeadAt cleared. LastError is kept for later inspection. The
	// transition is all-or-nothing; partial recovery is never committed.
	// Returns the number of mutations recovered.
	RecoverDeadLetters(ctx context.Context) (int64, error)

	// PurgeDeadLetters removes dead-lettered mutations whose DeadAt is
	// before the given time. Returns the number removed.
	PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error)
}
