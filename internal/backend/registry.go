package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh, uninitialized Backend. Each bridge start uses a
// new instance, so a runtime that cannot be restarted in place never is.
type Factory func() (Backend, error)

// Registry holds named backend factories and resolves the one selected by
// configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", name)
	}
	return f, nil
}

// Names returns the registered backend names, sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
