package mutation

import "time"

// Options configures per-mutation behavior such as retries and deadlines.
type Options struct {
	// MaxRetries is the maximum number of retry attempts before the
	// mutation is dead-lettered.
	MaxRetries int

	// Timeout is the maximum duration one apply attempt may take.
	Timeout time.Duration

	// RunAt schedules the mutation for a future sync pass. Zero means
	// eligible immediately.
	RunAt time.Time
}

// DefaultOptions returns Options with defaults for an on-device queue.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 5,
		Timeout:    30 * time.Second,
	}
}

// Option is a functional option for configuring a queued mutation.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum duration of one apply attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the mutation for a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}
