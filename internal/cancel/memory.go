package cancel

import (
	"context"
	"sync"
)

// Registry is an in-process cancellation registry.
type Registry struct {
	mu    sync.RWMutex
	flags map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]struct{})}
}

// RequestCancel sets the owner's flag. Setting it twice is a no-op.
func (r *Registry) RequestCancel(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[ownerID] = struct{}{}
	return nil
}

// IsCanceled reports whether the owner's flag is set.
func (r *Registry) IsCanceled(_ context.Context, ownerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.flags[ownerID]
	return ok, nil
}

// Clear removes the owner's flag.
func (r *Registry) Clear(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, ownerID)
	return nil
}
