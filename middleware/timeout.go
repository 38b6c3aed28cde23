package middleware

import (
	"context"
	"log/slog"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Timeout returns middleware that enforces a per-mutation apply deadline.
// If the mutation has a non-zero Timeout, a context.WithTimeout wraps the
// applier call. When the deadline is exceeded the context is cancelled and
// the applier should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		if m.Timeout > 0 {
			logger.Debug("mutation timeout set",
				slog.String("mutation_id", m.ID.String()),
				slog.Duration("timeout", m.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
