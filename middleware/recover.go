package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Recover returns middleware that recovers from panics in the applier chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("mutation applier panicked",
					slog.String("mutation_id", m.ID.String()),
					slog.String("entity_type", string(m.EntityType)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic applying %s mutation %s: %v", m.EntityType, m.ID, r)
			}
		}()
		return next(ctx)
	}
}
