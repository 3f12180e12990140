package storage

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps storage type names to their Lifecycle.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Lifecycle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Lifecycle)}
}

// Register adds a storage type. Names are registered once.
func (r *Registry) Register(name string, lc Lifecycle) error {
	if name == "" || lc == nil {
		return fmt.Errorf("registering storage type %q: %w", name, ErrInvalidStructure)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrTypeAlreadyRegistered)
	}
	r.types[name] = lc
	return nil
}

// Lookup returns the Lifecycle registered under name.
func (r *Registry) Lookup(name string) (Lifecycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lc, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownType)
	}
	return lc, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
