// Package plugin implements the ordered plugin loader: a fixed core-plugin
// load order, arch/OS gating, and LIFO teardown so producers outlive their
// consumers during unload.
package plugin

import (
	"fmt"

	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/registry"
	"github.com/cuemby/vmicore/pkg/types"
)

var logger = log.WithComponent("plugin")

// Plugin is implemented by every component the Manager loads, such as the
// task-switch, SLP, single-step and breakpoint coordinators. The VM facade
// does not implement it; it is registered in the service registry directly.
type Plugin interface {
	// Name is the key this plugin registers itself under in the service
	// registry.
	Name() string
	// Uninit tears the plugin down: unsubscribes and unregisters producers.
	// The Manager removes the plugin from the service registry.
	Uninit() error
}

// Factory describes a plugin constructor and the prerequisites that gate
// whether it is loadable in the current environment.
type Factory struct {
	// Name identifies the factory for logging and for reload-by-name.
	Name string
	// Arch restricts loading to a specific guest architecture. ArchAny
	// loads unconditionally.
	Arch types.Arch
	// OS restricts loading to a specific guest OS family. OSAny loads
	// unconditionally.
	OS types.OS
	// New constructs the plugin. It is called only if Loadable reports
	// true for the current environment.
	New func() (Plugin, error)
}

// Loadable reports whether f's architecture/OS prerequisites are satisfied
// by the given host architecture and guest OS.
func (f Factory) Loadable(hostArch types.Arch, guestOS types.OS) bool {
	if f.Arch != types.ArchAny && f.Arch != hostArch {
		return false
	}
	if f.OS != types.OSAny && f.OS != guestOS {
		return false
	}
	return true
}

// loaded pairs a plugin with the factory it came from, preserving load
// order for LIFO teardown.
type loaded struct {
	name   string
	plugin Plugin
}

// Manager tracks loaded plugins in load order and tears them down in
// reverse order, so a coordinator that depends on an earlier plugin (e.g.
// the breakpoint engine depends on the SLP coordinator) is always
// unloaded before the plugin it depends on.
type Manager struct {
	registry *registry.Registry
	loaded   []loaded
}

// New returns an empty Manager bound to reg, used to register/unregister
// plugins as they load and unload.
func New(reg *registry.Registry) *Manager {
	return &Manager{registry: reg}
}

// LoadPlugin constructs and registers a plugin from f if it is loadable in
// the given environment. It is a no-op (returns nil, nil) if f's
// prerequisites are not satisfied.
func (m *Manager) LoadPlugin(f Factory, hostArch types.Arch, guestOS types.OS) (Plugin, error) {
	if !f.Loadable(hostArch, guestOS) {
		logger.Debug().Str("name", f.Name).Msg("plugin not loadable in this environment, skipping")
		return nil, nil
	}
	logger.Debug().Str("name", f.Name).Msg("loading plugin")
	p, err := f.New()
	if err != nil {
		return nil, fmt.Errorf("load plugin %q: %w", f.Name, err)
	}
	if err := m.registry.Register(p.Name(), p); err != nil {
		return nil, fmt.Errorf("register plugin %q: %w", p.Name(), err)
	}
	m.loaded = append(m.loaded, loaded{name: p.Name(), plugin: p})
	return p, nil
}

// UnloadPlugin unloads the plugin registered under name: it is removed
// from the load order, unregistered from the service registry, and
// Uninit is called.
func (m *Manager) UnloadPlugin(name string) error {
	idx := -1
	for i, l := range m.loaded {
		if l.name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("unload plugin %q: not loaded", name)
	}
	p := m.loaded[idx].plugin
	m.loaded = append(m.loaded[:idx], m.loaded[idx+1:]...)

	logger.Debug().Str("name", name).Msg("unloading plugin")
	if _, err := m.registry.UnregisterByName(name); err != nil {
		return fmt.Errorf("unregister plugin %q: %w", name, err)
	}
	return p.Uninit()
}

// UnloadAll unloads every loaded plugin in reverse load order (LIFO), so
// the last-loaded (most dependent) plugin tears down first.
func (m *Manager) UnloadAll() error {
	for len(m.loaded) > 0 {
		last := m.loaded[len(m.loaded)-1]
		if err := m.UnloadPlugin(last.name); err != nil {
			return err
		}
	}
	return nil
}

// Loaded returns the names of every currently loaded plugin, in load
// order.
func (m *Manager) Loaded() []string {
	names := make([]string, len(m.loaded))
	for i, l := range m.loaded {
		names[i] = l.name
	}
	return names
}

// Healthy implements metrics.HealthSource: the manager is healthy once at
// least one plugin has loaded.
func (m *Manager) Healthy() (bool, string) {
	if len(m.loaded) == 0 {
		return false, "no plugins loaded"
	}
	return true, fmt.Sprintf("%d plugins loaded", len(m.loaded))
}
