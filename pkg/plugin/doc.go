/*
Package plugin implements the ordered plugin loader.

Core plugins always load in CoreLoadOrder: the VM facade and OS facade
first (everything else depends on reading guest memory and resolving guest
structures), then the task-switch, SLP, single-step, and breakpoint
coordinators in dependency order, then function-args and interactive last.
Plugin names listed in the configuration (config.PluginsSection) are not
loaded: there is no name-to-Factory table for them, and the CLI only
reports them.

Go has no equivalent to Python's dynamic import machinery, so unlike the
design this loader is based on, third-party plugins are not discovered from
a filesystem directory of source files — they are compiled into the binary
and registered as a Factory, the same way the core plugins are. See
DESIGN.md for the reasoning.

# Usage

	mgr := plugin.New(reg)
	for _, name := range plugin.CoreLoadOrder {
		f, ok := factories[name]
		if !ok {
			continue
		}
		if _, err := mgr.LoadPlugin(f, hostArch, guestOS); err != nil {
			return err
		}
	}
	defer mgr.UnloadAll()
*/
package plugin
