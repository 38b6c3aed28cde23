// Package status provides an explicit observable state container for the
// sync subsystem. Frontends (CLI, TUI, web) subscribe to snapshots instead
// of reading ambient global state.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one consistent view of the sync subsystem.
type Snapshot struct {
	// QueueDepth is the number of mutations waiting to sync
	// (pending, retrying, or inflight).
	QueueDepth int64 `json:"queue_depth"`

	// DeadLetters is the number of mutations held in the dead-letter set.
	DeadLetters int64 `json:"dead_letters"`

	// SyncRunning reports whether a sync pass is currently active.
	SyncRunning bool `json:"sync_running"`

	// LastSyncAt is when the last sync pass finished.
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`

	// LastRecoverCount is how many mutations the last bulk recovery
	// returned to the queue.
	LastRecoverCount int64 `json:"last_recover_count"`

	// LastError is the most recent apply failure message, if any.
	LastError string `json:"last_error,omitempty"`

	// UpdatedAt is when this snapshot was produced.
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the current Snapshot and notifies subscribers on change.
//
// Every subscriber owns a one-slot mailbox: a slow consumer skips
// intermediate snapshots but always observes the latest one. Publishing
// never blocks.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int

	published atomic.Int64
	skipped   atomic.Int64
}

// NewTracker creates a tracker with a zero snapshot.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]chan Snapshot)}
}

// Current returns the latest snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Subscribe registers a subscriber and immediately delivers the current
// snapshot into its mailbox. The returned cancel func must be called to
// release the subscription; the channel is closed afterwards.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.mu.Lock()
	key := t.next
	t.next++
	t.subs[key] = ch
	ch <- t.snap
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if sub, ok := t.subs[key]; ok {
			delete(t.subs, key)
			close(sub)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Update mutates the snapshot under the tracker lock and broadcasts the
// result to all subscribers.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	t.snap.UpdatedAt = time.Now().UTC()
	snap := t.snap

	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// Mailbox full: replace the stale snapshot with the new one.
			select {
			case <-ch:
				t.skipped.Add(1)
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
		t.published.Add(1)
	}
	t.mu.Unlock()
}

// Stats returns delivery counters for diagnostics.
func (t *Tracker) Stats() (published, skipped int64) {
	return t.published.Load(), t.skipped.Load()
}
