// Package badger implements store.Store on an embedded badger key-value
// database. It is the production on-device backend: queued mutations
// survive app restarts and device reboots without any external server.
//
// Each mutation is one entry under the "mut:" prefix, keyed by its
// TypeID and encoded with msgpack. Queries scan the prefix and filter in
// memory, so cost grows with total queue size -- fine for a device-local
// queue, wrong for server fan-in (use the postgres backend there).
//
// Bulk transitions (dequeue claims, dead-letter recovery, purges) run in
// a single write transaction. Concurrent readers observe either the old
// state or the new state, never a partial one.
//
//	s, err := badger.New("/var/lib/fitsync",
//	    badger.WithLogger(logger),
//	    badger.WithGCInterval(10*time.Minute),
//	)
//	if err != nil { ... }
//	defer s.Close()
//
//	engine, err := fitsync.New(fitsync.WithStore(s))
//
// NewInMemory opens a throwaway instance for tests.
package badger
