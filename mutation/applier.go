package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Applier applies one mutation against the remote API.
// Implementations decide how an (entity type, operation, payload) triple
// maps onto remote calls.
type Applier interface {
	Apply(ctx context.Context, m *Mutation) error
}

// ApplierFunc adapts a plain function to the Applier interface.
type ApplierFunc func(ctx context.Context, m *Mutation) error

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, m *Mutation) error { return f(ctx, m) }

// Definition is a typed applier definition for one entity type.
// T is the payload document type (must be JSON-serializable). Delete
// operations carry no payload and receive the zero value of T.
type Definition[T any] struct {
	// EntityType is the entity type this definition handles.
	EntityType EntityType

	// Apply processes one decoded mutation.
	Apply func(ctx context.Context, op Operation, entityID string, doc T) error
}

// NewDefinition creates a typed applier definition.
func NewDefinition[T any](entityType EntityType, apply func(ctx context.Context, op Operation, entityID string, doc T) error) *Definition[T] {
	return &Definition[T]{EntityType: entityType, Apply: apply}
}

// Registry maps entity types to appliers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	appliers map[EntityType]Applier
}

// NewRegistry creates an empty applier registry.
func NewRegistry() *Registry {
	return &Registry{
		appliers: make(map[EntityType]Applier),
	}
}

// Register registers an applier for an entity type, replacing any previous
// registration.
func (r *Registry) Register(entityType EntityType, a Applier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliers[entityType] = a
}

// RegisterDefinition registers a typed definition. The generic apply
// function is wrapped in a closure that JSON-unmarshals the payload into T
// before calling it.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	applier := ApplierFunc(func(ctx context.Context, m *Mutation) error {
		var doc T
		if len(m.Payload) > 0 {
			if err := json.Unmarshal(m.Payload, &doc); err != nil {
				return fmt.Errorf("unmarshal payload for %s mutation %s: %w", m.EntityType, m.ID, err)
			}
		}
		return def.Apply(ctx, m.Operation, m.EntityID, doc)
	})

	r.Register(def.EntityType, applier)
}

// Get returns the applier for the given entity type.
// Returns false if none is registered.
func (r *Registry) Get(entityType EntityType) (Applier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appliers[entityType]
	return a, ok
}

// Types returns all registered entity types.
func (r *Registry) Types() []EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]EntityType, 0, len(r.appliers))
	for et := range r.appliers {
		types = append(types, et)
	}
	return types
}
