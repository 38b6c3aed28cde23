package fitsync

import "time"

// Config holds configuration for the sync Agent.
type Config struct {
	// Concurrency is the maximum number of mutations applied concurrently.
	Concurrency int

	// EntityTypes is the list of entity types this agent will sync.
	EntityTypes []string

	// PollInterval is how often to poll the queue for eligible mutations.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often inflight mutations are touched.
	HeartbeatInterval time.Duration

	// StaleInflightThreshold is how long before an inflight mutation
	// without a heartbeat is returned to the pending queue.
	StaleInflightThreshold time.Duration

	// MaxRetries is the default retry budget for new mutations.
	MaxRetries int

	// SyncedRetention is how long synced mutations are kept before the
	// janitor purges them. Zero disables the purge task.
	SyncedRetention time.Duration

	// DeadLetterRetention is how long dead-lettered mutations are kept
	// before the janitor purges them. Zero disables the purge task.
	DeadLetterRetention time.Duration
}

// DefaultConfig returns a Config with defaults tuned for an on-device agent.
func DefaultConfig() Config {
	return Config{
		Concurrency:            4,
		EntityTypes:            []string{"workout", "workout_log", "readiness", "user_profile"},
		PollInterval:           5 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		HeartbeatInterval:      15 * time.Second,
		StaleInflightThreshold: 60 * time.Second,
		MaxRetries:             5,
		SyncedRetention:        24 * time.Hour,
		DeadLetterRetention:    30 * 24 * time.Hour,
	}
}
