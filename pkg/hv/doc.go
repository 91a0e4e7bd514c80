/*
Package hv defines the boundary between the runtime and the hypervisor
process it lives inside.

# Architecture

	┌────────────────────── RUNTIME / HYPERVISOR BOUNDARY ─────────────────┐
	│                                                                       │
	│   run loop, plugins, coordinators          hv.Hypervisor interface   │
	│  ┌───────────────────────────┐      ┌──────────────────────────┐    │
	│  │ pkg/events, pkg/slp,      │◄────►│ production binding        │    │
	│  │ pkg/breakpoint, ...       │      │ (QEMU/KVM control channel,│    │
	│  └───────────────────────────┘      │  out of scope here)       │    │
	│                                      ├──────────────────────────┤    │
	│                                      │ hv.FakeHypervisor         │    │
	│                                      │ (tests, `vmicore inspect`)│    │
	│                                      └──────────────────────────┘    │
	└───────────────────────────────────────────────────────────────────────┘

Hypervisor is deliberately narrow: lifecycle (Init/Uninit), the single
suspension point the run loop polls (WaitEvent/GetEvent), and the
memory/CPU/feature primitives the coordinator plugins drive. Nothing above
this package knows or cares whether it is talking to a real hypervisor or
FakeHypervisor.

OSFacade is a second, optional interface for guest-OS-aware symbol and task
resolution. It starts out bound to NopOSFacade and is replaced once an OS
plugin registers a real implementation with the service registry.

# Usage

	fake := hv.NewFakeHypervisor(1<<20, 2)
	fake.SetMapping(0x1000, 0x2000)
	phys, err := fake.Vtop(0x1000abc, 0)

	fake.PushEvent(types.BreakpointEvent{CPU: 0, GVA: 0x1000, GPA: 0x2000})
	ev := fake.GetEvent()
*/
package hv
