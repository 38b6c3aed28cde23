// Package fitsync provides a durable offline mutation queue with retry,
// dead-letter recovery, and diagnostics export for the AI Fitness Coach
// platform.
//
// Mutations made while offline (workouts, workout logs, readiness checks,
// profile edits) are queued locally and applied to the remote API by a
// background sync engine. Mutations that exhaust their retry budget are
// dead-lettered and held for manual recovery or export rather than being
// silently dropped.
//
// # Quick Start
//
//	a, err := fitsync.New(
//	    fitsync.WithStore(badgerStore),
//	    fitsync.WithConcurrency(4),
//	)
//
// # Architecture
//
// fitsync follows a composable store pattern where each subsystem (mutation
// queue, dead-letter set) defines its own store interface. A single backend
// implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package fitsync
