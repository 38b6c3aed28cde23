package api

import "github.com/saicgr/AIFitnessCoach-sub010/status"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MutationCountsResponse groups queue counts by state.
type MutationCountsResponse struct {
	Pending  int64 `json:"pending"`
	Inflight int64 `json:"inflight"`
	Synced   int64 `json:"synced"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}

// DeadLetterCountResponse carries the dead-letter set size.
type DeadLetterCountResponse struct {
	Count int64 `json:"count"`
}

// PurgeResponse reports how many rows a purge removed.
type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

// PurgeRequest bounds a dead-letter purge. Zero means the default
// retention window.
type PurgeRequest struct {
	OlderThanHours int `json:"older_than_hours"`
}

// SyncResponse confirms a sync trigger was accepted.
type SyncResponse struct {
	Triggered bool `json:"triggered"`
}

// StatsResponse aggregates queue counts, the dead-letter size and the
// live status snapshot.
type StatsResponse struct {
	Mutations   MutationCountsResponse `json:"mutations"`
	DeadLetters int64                  `json:"dead_letters"`
	Status      status.Snapshot        `json:"status"`
}
