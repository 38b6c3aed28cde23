// Package store defines the aggregate persistence interface. Each subsystem
// (mutation, deadletter) defines its own store interface. The composite Store
// composes them both. Backends: Postgres, Badger, and Memory.
package store

import (
	"context"

	"github.com/saicgr/AIFitnessCoach-sub010/deadletter"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, badger, memory) implements all of them.
//
// Dead letters are a state-based view over the mutation table rather than
// a separate copy table, so a backend satisfies deadletter.Store with
// queries against the same records it manages for mutation.Store.
type Store interface {
	mutation.Store
	deadletter.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
