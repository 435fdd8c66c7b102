package adapter

import (
	"fmt"
	"sync"

	"ioac/models"
)

// Registry maps backend ids to their capability descriptors. Reads
// (Resolve, Lookup, ListByKind) are frequent and non-mutating; writes
// (Register, Deregister, UpdateHealth) are rare. A reader-writer lock
// reflects that access pattern (spec §5).
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]CapabilityDescriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: map[string]CapabilityDescriptor{}}
}

// Register adds a descriptor. It fails with models.ErrDuplicateBackend if
// the id is already present.
func (r *Registry) Register(d CapabilityDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("%w: %q", models.ErrDuplicateBackend, d.ID)
	}
	r.descriptors[d.ID] = d
	return nil
}

// Deregister removes a descriptor. It fails with models.ErrBackendNotFound
// if the id is absent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[id]; !exists {
		return fmt.Errorf("%w: %q", models.ErrBackendNotFound, id)
	}
	delete(r.descriptors, id)
	return nil
}

// Lookup returns the descriptor registered under id, if any.
func (r *Registry) Lookup(id string) (CapabilityDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	return d, ok
}

// ListByKind returns every descriptor supporting the given modality.
func (r *Registry) ListByKind(m models.Modality) []CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CapabilityDescriptor
	for _, d := range r.descriptors {
		if d.supportsModality(m) {
			out = append(out, d)
		}
	}
	return out
}

// UpdateHealth atomically mutates a single descriptor's health field. It
// fails with models.ErrBackendNotFound if the id is absent.
func (r *Registry) UpdateHealth(id string, health models.Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[id]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrBackendNotFound, id)
	}
	d.Health = health
	r.descriptors[id] = d
	return nil
}

// snapshot returns a stable, sorted-by-nothing slice of all descriptors
// under the read lock, for Resolve to work against without holding the
// lock across the scoring pass.
func (r *Registry) snapshot() []CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CapabilityDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}
