// Package registry provides a process-wide, name-keyed singleton registry
// that plugins and coordinators use to find each other (the event manager,
// the VM facade, the plugin manager, ...) without importing one another
// directly.
package registry

import (
	"fmt"
	"sync"

	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

var logger = log.WithComponent("registry")

// Registry is a name -> object map. Construct it with New: the zero value
// has a nil map, so Register on it panics.
type Registry struct {
	mu    sync.RWMutex
	items map[string]interface{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{items: make(map[string]interface{})}
}

// Register adds obj under name. It returns vmierrors.ErrAlreadyRegistered if
// name is already taken.
func (r *Registry) Register(name string, obj interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("register %q: %w", name, vmierrors.ErrAlreadyRegistered)
	}
	logger.Debug().Str("name", name).Msg("registering service")
	r.items[name] = obj
	return nil
}

// UnregisterByName removes the object registered under name and returns it.
// It returns vmierrors.ErrNotFound if name is not registered.
func (r *Registry) UnregisterByName(name string) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("unregister %q: %w", name, vmierrors.ErrNotFound)
	}
	logger.Debug().Str("name", name).Msg("unregistering service")
	delete(r.items, name)
	return obj, nil
}

// UnregisterByObject removes whichever name obj is registered under. It
// returns vmierrors.ErrNotFound if obj is not registered under any name.
func (r *Registry) UnregisterByObject(obj interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range r.items {
		if v == obj {
			logger.Debug().Str("name", name).Msg("unregistering service")
			delete(r.items, name)
			return name, nil
		}
	}
	return "", fmt.Errorf("unregister object: %w", vmierrors.ErrNotFound)
}

// Get returns the object registered under name. It returns
// vmierrors.ErrNotFound if nothing is registered under that name.
func (r *Registry) Get(name string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, vmierrors.ErrNotFound)
	}
	return obj, nil
}

// Names returns every currently registered name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	return names
}
