/*
Package events implements the runtime's event substrate: a FIFO queue,
kind-keyed subscriptions, producer registration, continue-hooks, and the
run loop.

# Architecture

	┌──────────────────────────── RUN LOOP ──────────────────────────────┐
	│                                                                     │
	│  1. CallContinueHooks()   — flush SLP writes, invalidate VM caches │
	│  2. hv.WaitEvent(1s)      — block the VM, drain hypervisor traps   │
	│  3. while queue non-empty:                                         │
	│       event := pop front                                           │
	│       dispatch(event)     — wildcard subs, then kind-exact subs    │
	│       if event.Kind() == VmShutdown: return                        │
	│                                                                     │
	└─────────────────────────────────────────────────────────────────────┘

There is exactly one suspension point: the call into hv.WaitEvent. Every
other operation — subscribing, canceling, dispatching, running continue
hooks — executes synchronously on the same goroutine that calls RunLoop.
Coordinator plugins never need a mutex to protect their own state against
this package, because nothing in here runs concurrently with a callback.

# Usage

	mgr := events.New()
	mgr.Register(slpCoordinator, types.KindSLPViolation)

	gpa := uint64(0x1000)
	sub := &events.Subscription{
		Kind:     types.KindBreakpoint,
		Params:   types.BreakpointParams{GPA: &gpa},
		Callback: func(e types.Event) { handleBreakpoint(e.(types.BreakpointEvent)) },
	}
	mgr.RequestEvent(sub, true)

	err := mgr.RunLoop(ctx, hypervisor)

# Design Notes

A subscriber callback that panics is recovered and logged at Error, then
dispatch continues to the next subscriber — one broken plugin does not stall
the rest of the runtime. Subscription IDs come from google/uuid rather than
an incrementing counter, since a coordinator can hold IDs across reloads
without risking collisions against a fresh manager.
*/
package events
