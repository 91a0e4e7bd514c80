/*
Package registry implements the process-wide service lookup used to wire
together the event manager, VM facade, and plugin manager without an import
cycle between them.

The CLI registers the event manager, the VM facade and the plugin manager
under fixed names, and the plugin manager adds each plugin it loads under
the plugin's Name. Coordinators themselves receive their dependencies as
constructor arguments; the registry is the lookup for everything else
(for example `vmicore inspect` lists what is registered).

# Usage

	reg := registry.New()
	reg.Register("EventManager", eventManager)
	...
	obj, err := reg.Get("EventManager")
	em := obj.(*events.Manager)
*/
package registry
