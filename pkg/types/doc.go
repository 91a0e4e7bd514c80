/*
Package types defines the core data structures shared across the VMI runtime.

This package contains the event tagged union, its per-kind filter
parameters, and the architecture-neutral CPU/permission primitives used by
the event manager, the VM facade, and every coordinator plugin (SLP,
breakpoint, single step, task switch). It has no dependency on any other
runtime package, so it is safe to import from anywhere.

# Core Types

Event kinds:

  - VMReadyEvent: delivered once, before the first resume.
  - VMStopEvent: delivered on every VM stop, alongside the more specific
    event (if any) that caused it.
  - VMShutdownEvent: delivered once, ends the run loop.
  - BreakpointEvent: a stealth breakpoint trap (CPU, GVA, GPA).
  - SingleStepEvent: an armed single step completed (CPU, Method).
  - SLPViolationEvent: a second-level-paging permission trap (CPU, GFN,
    which access kinds trapped, and whether more than one trapped at once).
  - TaskSwitchEvent: an address-space switch, x86_64 (CR3 swap) or aarch64
    (TTBR0 swap) shaped depending on Arch.

Each kind has a matching Params type (BreakpointParams, SingleStepParams,
SLPViolationParams, TaskSwitchParams) implementing Matches(Event) bool. A
subscription's Params.Matches decides whether a dispatched event reaches
that subscription's callback; an unset filter field matches unconditionally,
mirroring the "no param means no filtering" default used throughout the
original design this runtime is based on.

CPUState and LBREntry are the architecture-neutral shapes the hypervisor
facade returns for register and branch-record reads; architecture-specific
interpretation of CPUState.Raw lives in pkg/vm, not here.

# Usage

	var gpa uint64 = 0x1000
	params := types.BreakpointParams{GPA: &gpa}
	if params.Matches(types.BreakpointEvent{GPA: 0x1000}) {
		// deliver
	}

# Design Notes

Event is a narrow interface (Kind() Kind) rather than a single struct with
one field per possible payload. Each event kind gets its own concrete type,
which keeps zero-value events honest — a BreakpointEvent's GVA/GPA are
real fields, not branches of an unrelated kind's payload left unused.
*/
package types
