package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Logging returns middleware that logs mutation apply start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		logger.Info("mutation apply started",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", string(m.EntityType)),
			slog.String("operation", string(m.Operation)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("mutation apply failed",
				slog.String("mutation_id", m.ID.String()),
				slog.String("entity_type", string(m.EntityType)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("mutation applied",
				slog.String("mutation_id", m.ID.String()),
				slog.String("entity_type", string(m.EntityType)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
