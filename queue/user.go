package queue

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// UserConfig defines pacing for a specific user on a specific entity
// type. A coach profile managing several athletes syncs each athlete's
// mutations under that athlete's user ID, and the remote API rate-limits
// per account.
type UserConfig struct {
	// EntityType is the mutation stream this config applies to.
	EntityType mutation.EntityType

	// UserID is the account identifier (mutation.UserID).
	UserID string

	// RateLimit is the sustained applies per second for this user.
	RateLimit float64

	// RateBurst is the burst size for the user's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous applies for this user on this
	// entity type. Zero means no user-specific concurrency limit.
	MaxConcurrency int
}

// userState tracks runtime state for a single type+user pair.
type userState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// userKey builds the map key for a type+user pair.
func userKey(entityType mutation.EntityType, userID string) string {
	return fmt.Sprintf("%s:%s", entityType, userID)
}

// SetUserConfig configures pacing for a specific user on a specific
// entity type. Calling this again for the same pair replaces the
// previous configuration.
func (m *Manager) SetUserConfig(cfg UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey(cfg.EntityType, cfg.UserID)
	existing := m.users[key]

	us := &userState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		us.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count when reconfiguring.
	if existing != nil {
		us.active = existing.active
	}
	m.users[key] = us
}

// UserActiveCount returns the current number of inflight applies for a
// type+user pair.
func (m *Manager) UserActiveCount(entityType mutation.EntityType, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if us := m.users[userKey(entityType, userID)]; us != nil {
		return us.active
	}
	return 0
}
