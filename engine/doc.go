// Package engine wires all fitsync subsystems together. It creates the
// hook registry, applier registry, middleware chain, worker pool,
// dead-letter service, export service, status tracker, and janitor, and
// provides Register/Enqueue operations.
//
// This package exists to break the import cycle: the root fitsync package
// defines Entity (imported by mutation, deadletter, etc.) and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the application layer.
//
// # Building
//
//	a, _ := fitsync.New(fitsync.WithStore(store))
//	eng, err := engine.Build(a)
//	if err != nil { ... }
//	engine.Register(eng, workoutApplier)
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// # Enqueueing
//
//	m, err := engine.Enqueue(ctx, eng,
//	    mutation.EntityWorkout, mutation.OpUpdate, workout.ID, workout)
//
// The mutation is applied on the next sync pass, or immediately after
// eng.SyncNow().
package engine
