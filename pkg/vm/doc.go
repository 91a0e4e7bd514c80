/*
Package vm implements the virtual-machine facade used by every other
coordinator plugin to touch guest state: physical/virtual memory,
translation, CPU register snapshots, and (x86_64 only) last-branch-record
capture.

# Architecture

	┌──────────────────── VM FACADE ───────────────────────────┐
	│                                                            │
	│  VM (architecture-neutral)                                │
	│   - PhysMemRead/Write, Vtop, MemRead/Write, ReadPointer   │
	│   - CPU(n) — memoized per stop, cleared by continue-hook  │
	│                                                            │
	│  X86 embeds VM                  AArch64 embeds VM         │
	│   - adds LBR refcounting         - no LBR                 │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Per-stop memoization exists because a single guest stop is typically
inspected by several plugins in sequence (the breakpoint engine, a function-
argument reader, an interactive shell) and re-querying the hypervisor for
the same vCPU registers on every one of them would be wasted round trips.
The continue-hook installed by New clears the cache before every resume, so
the next stop starts cold.

# Usage

	vmFacade := vm.NewX86(hypervisor, eventManager)
	state, err := vmFacade.CPU(0)

	if err := vmFacade.LBREnable(nil); err != nil { ... } // all CPUs
	defer vmFacade.LBRDisable(nil)
	entries, err := vmFacade.LBR(0)
*/
package vm
