// Package slp implements the second-level-paging permission coordinator: a
// per-page permission merger that enforces the hypervisor's W⊕X invariant
// and resolves RWX faults (accesses that need both write and execute in the
// same stop) via a single-step-then-restore protocol.
package slp

import (
	"fmt"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/metrics"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

var logger = log.WithComponent("slp")

const pageShift = 12

// rwxSlot remembers the permission a page should be restored to once the
// single-step taken to resolve an RWX fault lands.
type rwxSlot struct {
	gfn  uint64
	perm types.Perm
}

// Coordinator owns the per-page permission map and the buffered-violation
// continue-hook protocol described in the package doc.
type Coordinator struct {
	hv hv.Hypervisor
	em *events.Manager

	requests map[string]types.SLPViolationParams

	violations []types.SLPViolationEvent
	perms      map[uint64]types.Perm
	rwxPending map[int]rwxSlot

	sub *events.Subscription
}

// New constructs a Coordinator, registers it as the SlpViolation producer,
// subscribes it to every SlpViolation so it can buffer them for the
// continue-hook, and registers that continue-hook with em.
func New(h hv.Hypervisor, em *events.Manager) (*Coordinator, error) {
	c := &Coordinator{
		hv:         h,
		em:         em,
		requests:   make(map[string]types.SLPViolationParams),
		perms:      make(map[uint64]types.Perm),
		rwxPending: make(map[int]rwxSlot),
	}

	if err := em.Register(c, types.KindSLPViolation); err != nil {
		return nil, fmt.Errorf("register slp producer: %w", err)
	}

	c.sub = &events.Subscription{
		Kind:     types.KindSLPViolation,
		Callback: c.onViolation,
	}
	if err := em.RequestEvent(c.sub, false); err != nil {
		return nil, fmt.Errorf("subscribe slp violations: %w", err)
	}

	em.AddContinueHook(c.continueHook)
	return c, nil
}

// Name satisfies pkg/plugin.Plugin.
func (c *Coordinator) Name() string { return "SLP" }

// Uninit cancels the internal buffering subscription and unregisters as a
// producer. It does not remove the continue-hook; events.Manager has no
// hook-removal API (a torn-down Coordinator's continueHook runs on empty
// maps, which is harmless).
func (c *Coordinator) Uninit() error {
	c.em.Unregister(types.KindSLPViolation)
	return c.em.CancelEvent(c.sub)
}

// RequestEvent arms SlpViolation trapping for the frame range named by
// params (types.SLPViolationParams): permissions are set so that every
// access kind the caller wants to trap on (TrapR/TrapW/TrapX) is denied,
// and every other access kind remains allowed.
func (c *Coordinator) RequestEvent(kind types.Kind, params interface{}) (string, error) {
	p, ok := params.(types.SLPViolationParams)
	if !ok {
		return "", fmt.Errorf("slp request event: %w", vmierrors.ErrNotFound)
	}
	span := p.NumPages
	if span == 0 {
		span = 1
	}
	perm := types.Perm{R: !p.TrapR, W: !p.TrapW, X: !p.TrapX, Committed: true}
	for gfn := p.GFN; gfn < p.GFN+span; gfn++ {
		if err := c.hv.UpdateFeatureSLP(gfn, perm); err != nil {
			return "", fmt.Errorf("arm slp trap on gfn 0x%x: %w", gfn, err)
		}
	}
	requestID := fmt.Sprintf("slp-%x-%d", p.GFN, span)
	c.requests[requestID] = p
	return requestID, nil
}

// CancelEvent disarms the trapping previously armed by RequestEvent,
// restoring full read/write access (never execute, to preserve W⊕X) to the
// affected frames.
func (c *Coordinator) CancelEvent(requestID string) error {
	p, ok := c.requests[requestID]
	if !ok {
		return fmt.Errorf("cancel slp request %q: %w", requestID, vmierrors.ErrNotFound)
	}
	delete(c.requests, requestID)

	span := p.NumPages
	if span == 0 {
		span = 1
	}
	perm := types.Perm{R: true, W: true, X: false, Committed: true}
	for gfn := p.GFN; gfn < p.GFN+span; gfn++ {
		if err := c.hv.UpdateFeatureSLP(gfn, perm); err != nil {
			return fmt.Errorf("disarm slp trap on gfn 0x%x: %w", gfn, err)
		}
	}
	return nil
}

// UpdatePermissions requests that gpa's page end up with the given
// permissions. If another uncommitted request is already held for the same
// frame this stop, the two are merged (bitwise OR); a merge that would
// leave both write and execute set fails with
// vmierrors.ErrPermUpdateViolation. The very first request for a frame in a
// stop is pushed straight to the hypervisor and marked committed; every
// later request for the same frame in the same stop is held for the next
// continue-hook flush.
func (c *Coordinator) UpdatePermissions(gpa uint64, r, w, x bool) error {
	gfn := gpa >> pageShift

	if prev, ok := c.perms[gfn]; ok {
		merged := types.Perm{R: r || prev.R, W: w || prev.W, X: x || prev.X}
		if merged.W && merged.X {
			return fmt.Errorf("update permissions gfn 0x%x: %w", gfn, vmierrors.ErrPermUpdateViolation)
		}
		c.perms[gfn] = merged
		return nil
	}

	if w && x {
		return fmt.Errorf("update permissions gfn 0x%x: %w", gfn, vmierrors.ErrPermUpdateViolation)
	}
	perm := types.Perm{R: r, W: w, X: x, Committed: true}
	if err := c.hv.UpdateFeatureSLP(gfn, perm); err != nil {
		return fmt.Errorf("update permissions gfn 0x%x: %w", gfn, err)
	}
	c.perms[gfn] = perm
	metrics.SLPUpdates.Inc()
	return nil
}

func (c *Coordinator) onViolation(event types.Event) {
	v, ok := event.(types.SLPViolationEvent)
	if !ok {
		return
	}
	c.violations = append(c.violations, v)
}

// continueHook is registered with the event manager and runs before every
// hypervisor resume: it folds this cycle's buffered violations into the
// permission map, flushes every uncommitted entry to the hypervisor, then
// clears both for the next stop.
func (c *Coordinator) continueHook() {
	c.mergeEventPerms()

	for gfn, perm := range c.perms {
		if perm.Committed {
			continue
		}
		perm.Committed = true
		if err := c.hv.UpdateFeatureSLP(gfn, perm); err != nil {
			logger.Error().Err(err).Uint64("gfn", gfn).Msg("flush slp permission update")
			continue
		}
		metrics.SLPUpdates.Inc()
	}

	c.violations = nil
	c.perms = make(map[uint64]types.Perm)
}

func (c *Coordinator) mergeEventPerms() {
	for _, v := range c.violations {
		gfn := v.GPA >> pageShift

		if v.RWX {
			if _, exists := c.rwxPending[v.CPU]; exists {
				logger.Error().Int("cpu", v.CPU).Msg("unexpected second RWX violation on same cpu before resume")
				continue
			}
			metrics.SLPRWXViolations.Inc()

			restore, ok := c.perms[gfn]
			if !ok {
				restore = types.Perm{R: true, W: true, X: false}
			}
			c.rwxPending[v.CPU] = rwxSlot{gfn: gfn, perm: restore}
			c.perms[gfn] = types.Perm{R: true, W: true, X: true}
			if err := c.armSingleStep(v.CPU); err != nil {
				logger.Error().Err(err).Int("cpu", v.CPU).Msg("arm single step for rwx resolution")
			}
			continue
		}

		if _, ok := c.perms[gfn]; ok {
			continue
		}
		if v.R || v.W {
			c.perms[gfn] = types.Perm{R: true, W: true, X: false}
		} else {
			c.perms[gfn] = types.Perm{R: false, W: false, X: true}
		}
	}
}

// armSingleStep requests a single step on cpuNum through the event
// manager's registered single-step producer, installing a one-shot
// callback that restores the pre-fault permissions recorded in rwxPending
// once the step lands.
func (c *Coordinator) armSingleStep(cpuNum int) error {
	cpu := cpuNum
	var sub *events.Subscription
	sub = &events.Subscription{
		Kind:   types.KindSingleStep,
		Params: types.SingleStepParams{CPU: &cpu},
		Callback: func(event types.Event) {
			c.resolveRWX(cpuNum)
			if err := c.em.CancelEvent(sub); err != nil {
				logger.Debug().Err(err).Int("cpu", cpuNum).Msg("cancel rwx single-step subscription")
			}
		},
	}
	return c.em.RequestEvent(sub, true)
}

func (c *Coordinator) resolveRWX(cpuNum int) {
	slot, ok := c.rwxPending[cpuNum]
	if !ok {
		return
	}
	delete(c.rwxPending, cpuNum)
	// Drop any staged RWX entry for the frame so the restore is pushed as
	// a fresh request instead of being merged with it (which W⊕X rejects).
	delete(c.perms, slot.gfn)
	if err := c.UpdatePermissions(slot.gfn<<pageShift, slot.perm.R, slot.perm.W, slot.perm.X); err != nil {
		logger.Error().Err(err).Uint64("gfn", slot.gfn).Msg("restore pre-fault permissions after rwx single step")
	}
}
