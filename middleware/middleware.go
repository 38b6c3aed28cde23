// Package middleware provides composable middleware for mutation
// application. Middleware wraps applier calls synchronously and can modify
// execution (recover from panics, inject scope, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Handler is the terminal function that applies mutation logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the mutation being applied, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, m *mutation.Mutation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → applier
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, m, prev)
			}
		}
		return h(ctx)
	}
}
