package mutation

import (
	"time"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
)

// State represents the lifecycle state of a queued mutation.
type State string

const (
	// StatePending means the mutation is waiting to be picked up by the
	// sync engine.
	StatePending State = "pending"
	// StateInflight means the sync engine is currently applying the mutation.
	StateInflight State = "inflight"
	// StateSynced means the mutation was applied to the remote API.
	StateSynced State = "synced"
	// StateRetrying means the last attempt failed and the mutation is
	// scheduled for another attempt.
	StateRetrying State = "retrying"
	// StateDead means the retry budget is exhausted; the mutation is held
	// in the dead-letter set for manual recovery or export.
	StateDead State = "dead"
)

// EntityType discriminates which remote collection a mutation targets.
type EntityType string

const (
	EntityWorkout     EntityType = "workout"
	EntityWorkoutLog  EntityType = "workout_log"
	EntityReadiness   EntityType = "readiness"
	EntityUserProfile EntityType = "user_profile"
)

// KnownEntityTypes returns all entity types the sync engine understands.
func KnownEntityTypes() []EntityType {
	return []EntityType{EntityWorkout, EntityWorkoutLog, EntityReadiness, EntityUserProfile}
}

// Valid reports whether the entity type is one of the known set.
func (e EntityType) Valid() bool {
	switch e {
	case EntityWorkout, EntityWorkoutLog, EntityReadiness, EntityUserProfile:
		return true
	}
	return false
}

// Operation is the kind of change a mutation applies to the remote record.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Mutation represents one offline change queued for synchronization with
// the remote API.
type Mutation struct {
	fitsync.Entity

	ID          id.MutationID `json:"id"`
	EntityType  EntityType    `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	Operation   Operation     `json:"operation"`
	Payload     []byte        `json:"payload,omitempty"`
	State       State         `json:"state"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	DeviceID    id.DeviceID   `json:"device_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	SyncedAt    *time.Time    `json:"synced_at,omitempty"`
	DeadAt      *time.Time    `json:"dead_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
