// Package store defines the aggregate persistence interface.
//
// Each subsystem (mutation, deadletter) defines its own store interface.
// The composite [Store] composes them both. A single backend need only
// implement Store to satisfy every subsystem's persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    mutation.Store
//	    deadletter.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/badger — embedded BadgerDB store for on-device durability
//   - store/postgres — PostgreSQL backend using pgx/v5
//
// # Usage
//
//	import "github.com/saicgr/AIFitnessCoach-sub010/store/badger"
//
//	s, err := badger.New("/var/lib/fitsync")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	agent, err := fitsync.New(fitsync.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema. The memory
// and badger backends treat it as a no-op:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
