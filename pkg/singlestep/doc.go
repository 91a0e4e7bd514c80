/*
Package singlestep coordinates single-instruction stepping per vCPU.

	 RequestEvent(cpu, method?)
	        │
	        ▼
	 hv.UpdateFeatureDebug / UpdateFeatureMTF(cpu, enable=true)
	        │
	        ▼
	 guest executes exactly one instruction
	        │
	        ▼
	 hypervisor delivers types.SingleStepEvent
	        │
	        ▼
	 Coordinator.onSingleStep: disable the feature, clear armed_method

Only one method may be armed on a given CPU at a time; a second request for
a different method while one is outstanding fails with
vmierrors.ErrMethodConflict. A step is single-shot by construction: once it
fires, the coordinator clears its own state back to "none" rather than
leaving a stale method recorded, which the design this package is modeled
on did not do.

# Usage

	ss, err := singlestep.New(hvHandle, vmFacade, em, types.ArchX86_64, numCPUs)
	cpu := 0
	sub := &events.Subscription{
		Kind:     types.KindSingleStep,
		Params:   types.SingleStepParams{CPU: &cpu},
		Callback: onStep,
	}
	em.RequestEvent(sub, true)
*/
package singlestep
