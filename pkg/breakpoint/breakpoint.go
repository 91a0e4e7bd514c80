// Package breakpoint implements the stealth breakpoint engine: software
// breakpoints hidden from the guest by flipping second-level-paging
// permissions between RW-only ("Hidden") and X-only ("Armed"), with a
// single-step-over-the-instruction protocol to resume past a hit.
package breakpoint

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

var logger = log.WithComponent("breakpoint")

const pageShift = 12

// SLPUpdater is the narrow slice of the SLP coordinator this engine drives:
// the permission merge/commit entrypoint.
type SLPUpdater interface {
	UpdatePermissions(gpa uint64, r, w, x bool) error
}

// SingleStepSource is the narrow slice of the single-step coordinator this
// engine reads: the IP recorded when a step was armed, and which producer
// request currently owns the outstanding step on a CPU (for the ownership
// sanity check below).
type SingleStepSource interface {
	LastSingleStepGVA(cpuNum int) uint64
	Owner(cpuNum int) string
}

// VM is the narrow slice of the VM facade this engine needs: translating
// the stepped-over instruction pointer back to a guest physical address.
type VM interface {
	Vtop(addr uint64, dtb *uint64, cpuNum *int) (uint64, error)
}

// breakpoint tracks one requested address through its Armed/Hidden cycle.
type breakpoint struct {
	gpa   uint64
	armed bool
	rwSub *events.Subscription
	xSub  *events.Subscription
}

// Coordinator is the breakpoint engine described in the package doc. It
// registers as the events.Producer for types.KindBreakpoint.
type Coordinator struct {
	hv  hv.Hypervisor
	em  *events.Manager
	vm  VM
	slp SLPUpdater
	ss  SingleStepSource

	breakpoints map[string]*breakpoint
	// stepping tracks, per CPU, the throwaway single-step subscription
	// armed to step over a BP hit on that CPU, or nil if none is
	// outstanding.
	stepping []*events.Subscription

	bpSub *events.Subscription
	ssSub *events.Subscription
}

// New constructs a Coordinator for numCPUs vCPUs, registers it as the
// Breakpoint producer, and subscribes it to every Breakpoint and
// SingleStep event so it can drive the step-over protocol.
func New(h hv.Hypervisor, em *events.Manager, vm VM, slp SLPUpdater, ss SingleStepSource, numCPUs int) (*Coordinator, error) {
	c := &Coordinator{
		hv:          h,
		em:          em,
		vm:          vm,
		slp:         slp,
		ss:          ss,
		breakpoints: make(map[string]*breakpoint),
		stepping:    make([]*events.Subscription, numCPUs),
	}

	if err := em.Register(c, types.KindBreakpoint); err != nil {
		return nil, fmt.Errorf("register breakpoint producer: %w", err)
	}

	c.bpSub = &events.Subscription{Kind: types.KindBreakpoint, Callback: c.onBreakpointHit}
	if err := em.RequestEvent(c.bpSub, false); err != nil {
		return nil, fmt.Errorf("subscribe breakpoint hits: %w", err)
	}

	c.ssSub = &events.Subscription{Kind: types.KindSingleStep, Callback: c.onSingleStep}
	if err := em.RequestEvent(c.ssSub, false); err != nil {
		return nil, fmt.Errorf("subscribe single steps: %w", err)
	}

	return c, nil
}

// Name satisfies pkg/plugin.Plugin.
func (c *Coordinator) Name() string { return "Breakpoint" }

// ArmedCount satisfies pkg/metrics.ArmedCounter: it reports the number of
// breakpoints currently tracked, regardless of their Armed/Hidden phase.
func (c *Coordinator) ArmedCount() int { return len(c.breakpoints) }

// Uninit removes every tracked breakpoint and unsubscribes.
func (c *Coordinator) Uninit() error {
	for id, b := range c.breakpoints {
		if err := c.unsetBP(b); err != nil {
			logger.Error().Err(err).Str("request", id).Msg("unset breakpoint during uninit")
		}
	}
	c.breakpoints = make(map[string]*breakpoint)
	metrics.BreakpointsArmed.Set(0)

	c.em.Unregister(types.KindBreakpoint)
	if err := c.em.CancelEvent(c.bpSub); err != nil {
		return err
	}
	return c.em.CancelEvent(c.ssSub)
}

// RequestEvent arms a new stealth breakpoint at the guest physical address
// named by params (types.BreakpointParams.GPA, which must be set).
func (c *Coordinator) RequestEvent(kind types.Kind, params interface{}) (string, error) {
	p, ok := params.(types.BreakpointParams)
	if !ok || p.GPA == nil {
		return "", fmt.Errorf("breakpoint request: %w", vmierrors.ErrNotFound)
	}
	b := &breakpoint{gpa: *p.GPA}
	if err := c.setBP(b); err != nil {
		return "", err
	}
	requestID := uuid.NewString()
	c.breakpoints[requestID] = b
	metrics.BreakpointsArmed.Set(float64(len(c.breakpoints)))
	return requestID, nil
}

// CancelEvent removes a previously requested breakpoint.
func (c *Coordinator) CancelEvent(requestID string) error {
	b, ok := c.breakpoints[requestID]
	if !ok {
		return fmt.Errorf("cancel breakpoint %q: %w", requestID, vmierrors.ErrNotFound)
	}
	delete(c.breakpoints, requestID)
	metrics.BreakpointsArmed.Set(float64(len(c.breakpoints)))
	return c.unsetBP(b)
}

// setBP transitions b into the Armed state: page X-only, hardware debug
// breakpoint installed, listening for the RW violation that signals a
// write attempt (e.g. a guest integrity scanner) to hide from.
func (c *Coordinator) setBP(b *breakpoint) error {
	if err := c.slp.UpdatePermissions(b.gpa, false, false, true); err != nil {
		logger.Warn().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: slp permission update failed, relying on page default")
	}

	gfn := b.gpa >> pageShift
	b.rwSub = &events.Subscription{
		Kind:     types.KindSLPViolation,
		Params:   types.SLPViolationParams{GFN: gfn, NumPages: 1, TrapR: true, TrapW: true},
		Callback: func(types.Event) { c.onRW(b) },
	}
	if err := c.em.RequestEvent(b.rwSub, true); err != nil {
		return fmt.Errorf("breakpoint: subscribe rw violation: %w", err)
	}
	if err := c.hv.UpdateFeatureBreakpoint(b.gpa, true); err != nil {
		return fmt.Errorf("breakpoint: install debug bp: %w", err)
	}
	b.armed = true
	logger.Debug().Uint64("gpa", b.gpa).Msg("breakpoint armed")
	return nil
}

// unsetBP removes b, canceling whichever SLP subscription is currently
// active for its phase.
func (c *Coordinator) unsetBP(b *breakpoint) error {
	if b.armed {
		if err := c.hv.UpdateFeatureBreakpoint(b.gpa, false); err != nil {
			return fmt.Errorf("breakpoint: remove debug bp: %w", err)
		}
		return c.em.CancelEvent(b.rwSub)
	}
	return c.em.CancelEvent(b.xSub)
}

// onRW is the rwCallback: a write (or read) landed on the BP's page while
// Armed, so the engine hides the real instruction bytes by flipping the
// page to RW-only and removing the hardware breakpoint, then watches for
// the next execution attempt via an X-trap subscription.
func (c *Coordinator) onRW(b *breakpoint) {
	if err := c.hv.UpdateFeatureBreakpoint(b.gpa, false); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: remove debug bp on rw callback")
	}
	if err := c.slp.UpdatePermissions(b.gpa, true, true, false); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: update permissions on rw callback")
	}
	if err := c.em.CancelEvent(b.rwSub); err != nil {
		logger.Debug().Err(err).Msg("cancel rw subscription")
	}

	gfn := b.gpa >> pageShift
	b.xSub = &events.Subscription{
		Kind:     types.KindSLPViolation,
		Params:   types.SLPViolationParams{GFN: gfn, NumPages: 1, TrapX: true},
		Callback: func(types.Event) { c.onX(b) },
	}
	if err := c.em.RequestEvent(b.xSub, true); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: subscribe x violation")
	}
	b.armed = false
}

// onX is the xCallback: an execution attempt landed on the BP's page while
// Hidden, so the engine restores X-only access and reinstalls the hardware
// breakpoint before the guest actually runs the instruction.
func (c *Coordinator) onX(b *breakpoint) {
	if err := c.em.CancelEvent(b.xSub); err != nil {
		logger.Debug().Err(err).Msg("cancel x subscription")
	}

	gfn := b.gpa >> pageShift
	b.rwSub = &events.Subscription{
		Kind:     types.KindSLPViolation,
		Params:   types.SLPViolationParams{GFN: gfn, NumPages: 1, TrapR: true, TrapW: true},
		Callback: func(types.Event) { c.onRW(b) },
	}
	if err := c.em.RequestEvent(b.rwSub, true); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: subscribe rw violation")
	}
	if err := c.slp.UpdatePermissions(b.gpa, false, false, true); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: update permissions on x callback")
	}
	if err := c.hv.UpdateFeatureBreakpoint(b.gpa, true); err != nil {
		logger.Error().Err(err).Uint64("gpa", b.gpa).Msg("breakpoint: reinstall debug bp")
	}
	b.armed = true
}

// onBreakpointHit handles the raw hardware trap: arm a single step on the
// trapping CPU (unless one is already outstanding there) so the guest
// steps past the breakpoint instruction before anything resumes.
func (c *Coordinator) onBreakpointHit(event types.Event) {
	bp, ok := event.(types.BreakpointEvent)
	if !ok {
		return
	}
	if bp.CPU < 0 || bp.CPU >= len(c.stepping) {
		return
	}
	if c.stepping[bp.CPU] != nil && c.stepping[bp.CPU].Active {
		return
	}

	cpu := bp.CPU
	sub := &events.Subscription{
		Kind:     types.KindSingleStep,
		Params:   types.SingleStepParams{CPU: &cpu},
		Callback: func(types.Event) {},
	}
	if err := c.em.RequestEvent(sub, true); err != nil {
		logger.Error().Err(err).Int("cpu", bp.CPU).Msg("breakpoint: arm step-over")
		return
	}
	c.stepping[bp.CPU] = sub
}

// onSingleStep handles every completed single step: if it was one we armed
// to step over a breakpoint, translate the recorded IP back to a gpa and,
// if it matches a tracked breakpoint, synthesize a clean Breakpoint event
// for subscribers.
func (c *Coordinator) onSingleStep(event types.Event) {
	ss, ok := event.(types.SingleStepEvent)
	if !ok {
		return
	}
	if ss.CPU < 0 || ss.CPU >= len(c.stepping) {
		return
	}
	sub := c.stepping[ss.CPU]
	if sub == nil {
		return
	}
	c.stepping[ss.CPU] = nil
	defer func() {
		if err := c.em.CancelEvent(sub); err != nil {
			logger.Debug().Err(err).Int("cpu", ss.CPU).Msg("cancel step-over subscription")
		}
	}()

	if owner := c.ss.Owner(ss.CPU); owner != "" && owner != sub.ProducerRequest {
		logger.Warn().Int("cpu", ss.CPU).Msg("single step owned by another subscriber, skipping breakpoint synthesis")
		return
	}

	lastGVA := c.ss.LastSingleStepGVA(ss.CPU)
	cpu := ss.CPU
	lastGPA, err := c.vm.Vtop(lastGVA, nil, &cpu)
	if err != nil {
		logger.Debug().Err(err).Int("cpu", ss.CPU).Msg("translate stepped-over address")
		return
	}

	for _, b := range c.breakpoints {
		if b.gpa == lastGPA {
			c.em.PutEvent(types.BreakpointEvent{CPU: ss.CPU, GVA: lastGVA, GPA: lastGPA})
		}
	}
}
