package janitor

import (
	"context"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// PurgeSynced returns a task that removes synced mutations older than
// retention. Keeps on-device storage bounded once changes have landed on
// the remote API.
func PurgeSynced(store mutation.Store, retention time.Duration) Task {
	return Task{
		Name:     "purge-synced",
		Schedule: "@every 1h",
		Run: func(ctx context.Context) (int64, error) {
			return store.PurgeSynced(ctx, time.Now().UTC().Add(-retention))
		},
	}
}

// PurgeDeadLetters returns a task that expires dead-lettered mutations
// older than retention. Expired dead letters are unrecoverable; size the
// retention so users have time to notice and recover or export them.
func PurgeDeadLetters(store deadletter.Store, retention time.Duration) Task {
	return Task{
		Name:     "purge-dead-letters",
		Schedule: "@every 6h",
		Run: func(ctx context.Context) (int64, error) {
			return store.PurgeDeadLetters(ctx, time.Now().UTC().Add(-retention))
		},
	}
}

// ScheduledSync returns a task that requests a sync pass on a fixed
// schedule, for deployments that want a guaranteed pass (say, nightly on
// wifi) in addition to the poll loop.
func ScheduledSync(trigger deadletter.SyncTrigger, schedule string) Task {
	return Task{
		Name:     "scheduled-sync",
		Schedule: schedule,
		Run: func(_ context.Context) (int64, error) {
			trigger.SyncNow()
			return 0, nil
		},
	}
}
