package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Config defines pacing for one entity type: how fast and how wide its
// mutations may hit the remote API.
type Config struct {
	// EntityType selects the mutation stream this config applies to.
	EntityType mutation.EntityType

	// MaxConcurrency limits how many mutations of this type may be
	// inflight simultaneously. Zero means no type-specific limit
	// (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained applies per second for this
	// type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single entity type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager paces mutation applies per entity type and per user.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[mutation.EntityType]*typeState
	users map[string]*userState
}

// NewManager creates a Manager with the given pacing configurations.
// Entity types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types: make(map[mutation.EntityType]*typeState, len(configs)),
		users: make(map[string]*userState),
	}
	for _, cfg := range configs {
		m.types[cfg.EntityType] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given entity type
// and user. If the apply may proceed it increments the active counters
// and returns true. The caller MUST call Release when the apply
// finishes.
func (m *Manager) Acquire(entityType mutation.EntityType, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Type-level constraints.
	ts := m.types[entityType]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
			return false
		}
	}

	// User-level constraints.
	if userID != "" {
		us := m.users[userKey(entityType, userID)]
		if us != nil {
			if us.limiter != nil && !us.limiter.Allow() {
				return false
			}
			if us.maxConcurrency > 0 && us.active >= us.maxConcurrency {
				return false
			}
			us.active++
		}
	}

	if ts != nil {
		ts.active++
	}
	return true
}

// Release decrements the active counters for the entity type and user.
func (m *Manager) Release(entityType mutation.EntityType, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[entityType]; ts != nil && ts.active > 0 {
		ts.active--
	}

	if userID != "" {
		if us := m.users[userKey(entityType, userID)]; us != nil && us.active > 0 {
			us.active--
		}
	}
}

// SetConfig dynamically updates (or creates) the pacing for an entity
// type.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.types[cfg.EntityType]
	ts := newTypeState(cfg)

	// Preserve current active count when reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.EntityType] = ts
}

// ActiveCount returns the current number of inflight applies for an
// entity type.
func (m *Manager) ActiveCount(entityType mutation.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[entityType]; ts != nil {
		return ts.active
	}
	return 0
}
