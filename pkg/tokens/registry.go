package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-tokens/pkg/domain"
)

// ResolverFunc loads an owner of a registered type by id.
// It returns nil, nil when the owner no longer exists.
type ResolverFunc func(ctx context.Context, ownerID string) (domain.Owner, error)

// FallbackFunc resolves owners whose type has no registered resolver.
type FallbackFunc func(ctx context.Context, ownerType, ownerID string) (domain.Owner, error)

// Registry maps owner types to resolvers. Entity types register here to
// use tokens; stores delegate ResolveOwner to it.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]ResolverFunc
	fallback  FallbackFunc
}

// NewRegistry creates an empty owner registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]ResolverFunc)}
}

// Register associates ownerType with its resolver, replacing any previous one.
func (r *Registry) Register(ownerType string, fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[ownerType] = fn
}

// SetFallback sets the resolver used for owner types with no registration.
func (r *Registry) SetFallback(fn FallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Registered returns true if ownerType has a resolver.
func (r *Registry) Registered(ownerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[ownerType]
	return ok
}

// ResolveOwner implements the owner resolution half of Store.
func (r *Registry) ResolveOwner(ctx context.Context, ownerType, ownerID string) (domain.Owner, error) {
	r.mu.RLock()
	fn, ok := r.resolvers[ownerType]
	fallback := r.fallback
	r.mu.RUnlock()

	if ok {
		return fn(ctx, ownerID)
	}
	if fallback != nil {
		return fallback(ctx, ownerType, ownerID)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownOwnerType, ownerType)
}

// ResolveRef is a FallbackFunc that answers with an OwnerRef for any type.
func ResolveRef(_ context.Context, ownerType, ownerID string) (domain.Owner, error) {
	return domain.OwnerRef{Type: ownerType, ID: ownerID}, nil
}

// RefResolver returns a resolver that answers with an OwnerRef for ownerType
// without loading anything.
func RefResolver(ownerType string) ResolverFunc {
	return func(_ context.Context, ownerID string) (domain.Owner, error) {
		return domain.OwnerRef{Type: ownerType, ID: ownerID}, nil
	}
}
