/*
Package breakpoint implements the stealth breakpoint engine.

	 Armed: debug BP installed, page X-only
	        │  guest reads/writes the page ──► SlpViolation{trap_r|trap_w}
	        ▼
	 onRW: remove debug BP, page → RW-only, subscribe trap_x
	        │
	 Hidden: no debug BP, page RW-only
	        │  guest executes the page ──► SlpViolation{trap_x}
	        ▼
	 onX: subscribe trap_r/trap_w again, page → X-only, reinstall debug BP
	        │
	        └──► back to Armed

Independently, every raw hardware breakpoint trap starts a step-over: the
engine arms a single step on the trapping CPU (unless one is already
outstanding there), and when that step lands, translates the recorded
instruction pointer back to a guest physical address. If it matches a
tracked breakpoint, a clean types.BreakpointEvent is synthesized via
PutEvent so subscribers see a post-step event rather than the raw trap.

Before trusting the recorded instruction pointer, the step-over callback
checks that the single-step coordinator's current owner for that CPU still
matches the request this engine made — if some other subscriber re-armed a
step on the same CPU in between, synthesis is skipped and a warning is
logged instead of guessing.

# Usage

	coord, err := breakpoint.New(hvHandle, em, vmFacade, slpCoord, ssCoord, numCPUs)
	gpa := uint64(0x1000)
	reqID, err := coord.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &gpa})
	defer coord.CancelEvent(reqID)
*/
package breakpoint
