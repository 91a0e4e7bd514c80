/*
Package taskswitch coordinates hypervisor address-space-switch trapping on
behalf of any number of subscribers that want TaskSwitchEvent delivery for
a particular page-table base (x86_64) or register (aarch64).

The hypervisor only exposes a single on/off trap per architecture-specific
key, so the coordinator reference-counts outstanding requests and flips
the underlying trap only at the edges: the first request for a facet not
already covered enables it, the last request covering a facet disables
it.

	ts, _ := taskswitch.New(hv, em, types.ArchX86_64)
	dtb := uint64(0x1000)
	id, _ := ts.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{
	        DTB: &dtb, Incoming: true,
	})
	// ... later
	ts.CancelEvent(id)

x86_64's hypervisor call toggles CR3-swap trapping globally rather than
per guest page-table base, since there is no per-dtb filtering hook below
the coordinator. The per-(dtb,direction) coverage computation still
decides *when* that single switch flips, and backs the
TaskSwitchFacetsActive metric, but cannot narrow which address spaces are
actually watched — every subscriber sees every CR3 swap once the trap is
on.
*/
package taskswitch
