// Package scope provides helpers to capture and restore the user and
// device identity a mutation was recorded under.
//
// Mutations persist UserID/DeviceID so that a queue surviving an app
// restart still applies under the right account. These helpers bridge
// between those entity fields and context.Context.
package scope

import "context"

type ctxKey int

const (
	userKey ctxKey = iota
	deviceKey
)

// WithUser attaches a user identifier to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// WithDevice attaches a device identifier to the context.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey, deviceID)
}

// Capture extracts the user and device identifiers from the context.
// Returns empty strings for whatever is not present.
func Capture(ctx context.Context) (userID, deviceID string) {
	if v, ok := ctx.Value(userKey).(string); ok {
		userID = v
	}
	if v, ok := ctx.Value(deviceKey).(string); ok {
		deviceID = v
	}
	return userID, deviceID
}

// Restore attaches the given user and device IDs to the context.
// Empty values are skipped so an unset field never shadows an
// identity already on the context.
func Restore(ctx context.Context, userID, deviceID string) context.Context {
	if userID != "" {
		ctx = WithUser(ctx, userID)
	}
	if deviceID != "" {
		ctx = WithDevice(ctx, deviceID)
	}
	return ctx
}
