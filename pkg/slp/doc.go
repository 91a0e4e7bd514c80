/*
Package slp coordinates second-level-paging permissions: the per-page
state that permission-sensitive plugins such as the breakpoint engine
funnel through.

	 UpdatePermissions(gpa, r, w, x)
	        │
	        ├─ no request held for this gfn yet ──► push to hypervisor, committed
	        └─ a request is already held ──► OR the flags together; W∧X fails
	                                          with ErrPermUpdateViolation

	 types.SlpViolation ──► buffered ──► continue-hook:
	        │                                │
	        │                                ├─ rwx fault: stash pre-fault perm,
	        │                                │   open the page RWX, arm single step
	        │                                ├─ r/w fault: request RW, no-X
	        │                                └─ flush every uncommitted entry

On the single step that resolves an RWX fault, the coordinator restores the
page to the permissions it held before the fault via UpdatePermissions
itself, so the restore goes through the same merge/commit path as any other
caller.

# Usage

	coord, err := slp.New(hvHandle, em)
	err = coord.UpdatePermissions(gpa, false, false, true) // X-only
*/
package slp
