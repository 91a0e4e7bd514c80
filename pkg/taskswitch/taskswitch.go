// Package taskswitch implements the task-switch feature coordinator: a
// reference-counted toggle for the hypervisor's address-space-switch trap,
// covering x86_64 (keyed by page-table base and direction) and aarch64
// (keyed by the TTBR/TCR register name).
package taskswitch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/metrics"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

var logger = log.WithComponent("taskswitch")

// x86Reg is the register name passed to hv.UpdateFeatureTaskSwitch for
// x86_64. The hypervisor ABI toggles CR3-swap tracking as a single
// feature, not per guest page-table base, so the per-(dtb,direction)
// coverage bookkeeping below only decides *when* to flip that one switch
// (and drives the ActiveFacetCount metric); it cannot select a subset of
// address spaces to watch.
const x86Reg = "CR3"

// Coordinator tracks outstanding task-switch subscriptions and enables or
// disables the underlying hypervisor trap as the first subscriber arrives
// or the last one leaves.
type Coordinator struct {
	hv   hv.Hypervisor
	em   *events.Manager
	arch types.Arch

	requests map[string]types.TaskSwitchParams
}

// New constructs a Coordinator for the given guest architecture and
// registers it as the TaskSwitch producer.
func New(h hv.Hypervisor, em *events.Manager, arch types.Arch) (*Coordinator, error) {
	c := &Coordinator{
		hv:       h,
		em:       em,
		arch:     arch,
		requests: make(map[string]types.TaskSwitchParams),
	}
	if err := em.Register(c, types.KindTaskSwitch); err != nil {
		return nil, fmt.Errorf("register task-switch producer: %w", err)
	}
	return c, nil
}

// Name satisfies pkg/plugin.Plugin.
func (c *Coordinator) Name() string { return "TaskSwitch" }

// Uninit disables every outstanding request's facet and unregisters as a
// producer. Requests are torn down one at a time (not drained with a bulk
// map clear) so each disable goes through the same coverage check a
// normal CancelEvent would.
func (c *Coordinator) Uninit() error {
	for id := range c.requests {
		if err := c.CancelEvent(id); err != nil {
			logger.Error().Err(err).Str("request", id).Msg("cancel task-switch request during uninit")
		}
	}
	c.em.Unregister(types.KindTaskSwitch)
	return nil
}

// ActiveFacetCount satisfies pkg/metrics.FacetCounter: the number of
// distinct (dtb, direction) pairs on x86_64, or distinct registers on
// aarch64, currently covered by at least one outstanding request.
func (c *Coordinator) ActiveFacetCount() int {
	facets := make(map[string]struct{})
	for _, p := range c.requests {
		if c.arch == types.ArchAArch64 {
			facets[p.Reg] = struct{}{}
			continue
		}
		if p.DTB == nil {
			continue
		}
		if p.Incoming {
			facets[fmt.Sprintf("%x-in", *p.DTB)] = struct{}{}
		}
		if p.Outgoing {
			facets[fmt.Sprintf("%x-out", *p.DTB)] = struct{}{}
		}
	}
	return len(facets)
}

// RequestEvent registers interest in task switches matching params
// (types.TaskSwitchParams) and enables the hypervisor trap if this request
// is not already covered by an existing one.
func (c *Coordinator) RequestEvent(kind types.Kind, params interface{}) (string, error) {
	p, ok := params.(types.TaskSwitchParams)
	if !ok {
		return "", fmt.Errorf("task-switch request: %w", vmierrors.ErrNotFound)
	}
	c.updateFeature(p, true)

	requestID := uuid.NewString()
	c.requests[requestID] = p
	metrics.TaskSwitchFacetsActive.Set(float64(c.ActiveFacetCount()))
	return requestID, nil
}

// CancelEvent removes a previously registered request and disables the
// hypervisor trap if nothing else still needs it.
func (c *Coordinator) CancelEvent(requestID string) error {
	p, ok := c.requests[requestID]
	if !ok {
		return fmt.Errorf("cancel task-switch request %q: %w", requestID, vmierrors.ErrNotFound)
	}
	delete(c.requests, requestID)
	c.updateFeature(p, false)
	metrics.TaskSwitchFacetsActive.Set(float64(c.ActiveFacetCount()))
	return nil
}

func (c *Coordinator) updateFeature(p types.TaskSwitchParams, enable bool) {
	if c.arch == types.ArchAArch64 {
		c.updateFeatureAArch64(p, enable)
		return
	}
	c.updateFeatureX86(p, enable)
}

// updateFeatureX86 decides whether request p is already covered by some
// other outstanding request for the same dtb (in both the incoming and
// outgoing directions it asks for), and enables the hypervisor trap only
// when coverage actually grows. The x86_64 trap is one global switch, so
// it is disabled only once no request for any dtb remains.
func (c *Coordinator) updateFeatureX86(p types.TaskSwitchParams, enable bool) {
	if p.DTB == nil {
		return
	}
	found := false
	incoming := false
	outgoing := false
	for _, r := range c.requests {
		if r.DTB == nil || *r.DTB != *p.DTB {
			continue
		}
		found = true
		if r.Incoming {
			incoming = true
		}
		if r.Outgoing {
			outgoing = true
		}
		if incoming && outgoing {
			break
		}
	}

	if !enable {
		for _, r := range c.requests {
			if r.DTB != nil {
				return
			}
		}
		if err := c.hv.UpdateFeatureTaskSwitch(false, x86Reg); err != nil {
			logger.Error().Err(err).Msg("disable task-switch trap")
		}
		return
	}
	if !found || (p.Incoming && !incoming) || (p.Outgoing && !outgoing) {
		if err := c.hv.UpdateFeatureTaskSwitch(enable, x86Reg); err != nil {
			logger.Error().Err(err).Msg("update task-switch trap")
		}
	}
}

// updateFeatureAArch64 mirrors updateFeatureX86 for the single-key
// (register name) coverage case.
func (c *Coordinator) updateFeatureAArch64(p types.TaskSwitchParams, enable bool) {
	found := false
	for _, r := range c.requests {
		if r.Reg == p.Reg {
			found = true
			break
		}
	}
	if !found && !enable {
		if err := c.hv.UpdateFeatureTaskSwitch(false, p.Reg); err != nil {
			logger.Error().Err(err).Str("reg", p.Reg).Msg("disable task-switch trap")
		}
		return
	}
	if !found {
		if err := c.hv.UpdateFeatureTaskSwitch(true, p.Reg); err != nil {
			logger.Error().Err(err).Str("reg", p.Reg).Msg("enable task-switch trap")
		}
	}
}
