// Package middleware provides composable middleware for mutation application.
//
// A [Middleware] is a function that wraps a mutation applier. Middleware are
// composed into a chain using [Chain] and applied before each mutation is
// pushed to the remote API. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → applier
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs entity type, operation, duration, and outcome per apply
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the apply context after the mutation's deadline
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-apply duration and outcome counters
//   - [Scope] — restores the recorded user/device identity into context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, m *mutation.Mutation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
