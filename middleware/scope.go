package middleware

import (
	"context"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
	"github.com/saicgr/AIFitnessCoach-sub010/scope"
)

// Scope returns middleware that restores the user and device identity from
// the mutation's UserID/DeviceID fields into the context. This ensures
// appliers see the same identity as the original enqueue caller, even after
// an app restart replays a persisted queue.
func Scope() Middleware {
	return func(ctx context.Context, m *mutation.Mutation, next Handler) error {
		ctx = scope.Restore(ctx, m.UserID, m.DeviceID.String())
		return next(ctx)
	}
}
