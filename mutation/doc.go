// Package mutation defines the offline mutation entity, its state machine,
// typed applier definitions, and the queue store interface.
//
// # Mutation Entity
//
// A [Mutation] represents one change made while offline. It embeds
// [fitsync.Entity] for timestamps, carries the target entity type and a
// JSON payload, and progresses through a state machine:
//
//	pending → inflight → synced
//	pending → inflight → retrying → inflight → ...
//	pending → inflight → ... → dead
//	dead → pending (bulk recovery)
//
// Fields of note:
//   - EntityType / EntityID: which remote record the change targets
//   - Operation: create, update, or delete
//   - MaxRetries / RetryCount: controls the retry budget
//   - RunAt: earliest time the mutation may be dequeued
//   - Timeout: per-attempt deadline (zero = unlimited)
//
// A mutation is dead if and only if the sync engine exhausted its retry
// budget; nothing else moves a mutation into the dead-letter set.
//
// # Defining an Applier
//
// Use [Definition] with a typed apply function. The payload is decoded
// before the function runs; delete operations receive the zero document:
//
//	var Workouts = mutation.NewDefinition(mutation.EntityWorkout,
//	    func(ctx context.Context, op mutation.Operation, entityID string, doc WorkoutDoc) error {
//	        return api.PutWorkout(ctx, entityID, doc)
//	    },
//	)
//
// # Registry
//
// [Registry] maps entity types to type-erased [Applier] values. Register
// definitions at startup via [RegisterDefinition], or register a raw
// [Applier] (such as the remote HTTP client) directly:
//
//	mutation.RegisterDefinition(registry, Workouts)
//	registry.Register(mutation.EntityReadiness, remoteClient)
//
// The engine package provides higher-level Enqueue wrappers.
package mutation
