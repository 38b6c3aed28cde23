// Package feed provides a real-time event feed for sync lifecycle events.
// It bridges the hook.Registry extension system to connected clients via
// topic-based pub/sub over WebSocket.
package feed

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Mutation events.
	EventMutationEnqueued EventType = "mutation.enqueued"
	EventMutationStarted  EventType = "mutation.started"
	EventMutationSynced   EventType = "mutation.synced"
	EventMutationRetrying EventType = "mutation.retrying"
	EventMutationDead     EventType = "mutation.dead"

	// Sync pass events.
	EventPassStarted  EventType = "sync.pass_started"
	EventPassFinished EventType = "sync.pass_finished"

	// Dead-letter and export events.
	EventDeadLettersRecovered EventType = "deadletter.recovered"
	EventExportCreated        EventType = "export.created"

	// EventStatusSnapshot carries the current status snapshot. The server
	// replays one as the first event after a successful auth handshake.
	EventStatusSnapshot EventType = "status.snapshot"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// MutationEventData is the payload for mutation lifecycle events.
type MutationEventData struct {
	MutationID string `json:"mutation_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Operation  string `json:"operation"`
	UserID     string `json:"user_id,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	NextRunAt  string `json:"next_run_at,omitempty"`
}

// PassEventData is the payload for sync pass lifecycle events.
type PassEventData struct {
	PassID    string `json:"pass_id"`
	Trigger   string `json:"trigger,omitempty"`
	Synced    int    `json:"synced,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// RecoveryEventData is the payload for dead-letter recovery events.
type RecoveryEventData struct {
	Recovered int64 `json:"recovered"`
}

// ExportEventData is the payload for export events.
type ExportEventData struct {
	ExportID string `json:"export_id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Count    int    `json:"count"`
}
