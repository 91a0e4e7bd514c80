// Package singlestep implements the per-CPU single-step coordinator: a
// reference-counted-by-one feature toggle that arms a debug trap or the
// hardware monitor trap flag for exactly one instruction, then self-disarms
// when the step completes.
package singlestep

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

var logger = log.WithComponent("singlestep")

// VMCPU is the narrow slice of the VM facade the coordinator needs: the
// current instruction pointer, to record where a step was armed from.
type VMCPU interface {
	CPU(cpuNum int) (types.CPUState, error)
}

// Coordinator arms and disarms single-stepping per CPU. It registers itself
// as the events.Producer for types.KindSingleStep and subscribes to its own
// output to self-disarm.
type Coordinator struct {
	hv   hv.Hypervisor
	vm   VMCPU
	em   *events.Manager
	arch types.Arch

	defaultMethod types.SingleStepMethod

	armed  []types.SingleStepMethod
	lastIP []uint64
	owner  []string // request ID (from RequestEvent) that armed each CPU, for the sanity check

	sub *events.Subscription
}

// New constructs a Coordinator for numCPUs vCPUs, registers it as the
// SingleStep producer, and subscribes it to its own events so it can
// self-disarm. arch selects the default method: debug traps on aarch64,
// MTF on x86_64.
func New(h hv.Hypervisor, v VMCPU, em *events.Manager, arch types.Arch, numCPUs int) (*Coordinator, error) {
	defaultMethod := types.SingleStepMethodMTF
	if arch == types.ArchAArch64 {
		defaultMethod = types.SingleStepMethodDebug
	}

	c := &Coordinator{
		hv:            h,
		vm:            v,
		em:            em,
		arch:          arch,
		defaultMethod: defaultMethod,
		armed:         make([]types.SingleStepMethod, numCPUs),
		lastIP:        make([]uint64, numCPUs),
		owner:         make([]string, numCPUs),
	}

	if err := em.Register(c, types.KindSingleStep); err != nil {
		return nil, fmt.Errorf("register single-step producer: %w", err)
	}

	c.sub = &events.Subscription{
		Kind:     types.KindSingleStep,
		Callback: c.onSingleStep,
	}
	if err := em.RequestEvent(c.sub, false); err != nil {
		return nil, fmt.Errorf("subscribe single-step: %w", err)
	}
	return c, nil
}

// Name satisfies pkg/plugin.Plugin.
func (c *Coordinator) Name() string { return "SingleStep" }

// Uninit cancels the self-subscription and unregisters as a producer.
func (c *Coordinator) Uninit() error {
	c.em.Unregister(types.KindSingleStep)
	return c.em.CancelEvent(c.sub)
}

// RequestEvent arms a single step on the CPU named in params
// (types.SingleStepParams). A nil Method selects the architecture default.
// It returns vmierrors.ErrMethodConflict if the CPU is already armed with a
// different method.
func (c *Coordinator) RequestEvent(kind types.Kind, params interface{}) (string, error) {
	p, _ := params.(types.SingleStepParams)
	if p.CPU == nil {
		return "", fmt.Errorf("single-step request: %w", vmierrors.ErrNotFound)
	}
	cpuNum := *p.CPU
	method := c.defaultMethod
	if p.Method != nil {
		method = *p.Method
	}

	if c.armed[cpuNum] != types.SingleStepMethodNone && c.armed[cpuNum] != method {
		return "", fmt.Errorf("single-step cpu %d: %w", cpuNum, vmierrors.ErrMethodConflict)
	}

	if err := c.featureUpdate(true, method, cpuNum); err != nil {
		return "", err
	}

	state, err := c.vm.CPU(cpuNum)
	if err != nil {
		return "", fmt.Errorf("single-step cpu %d: read state: %w", cpuNum, err)
	}

	requestID := uuid.NewString()
	c.armed[cpuNum] = method
	c.lastIP[cpuNum] = state.InstructionPtr
	c.owner[cpuNum] = requestID
	return requestID, nil
}

// CancelEvent is a no-op: the step self-disarms when it completes, per the
// single-shot contract described in the package doc.
func (c *Coordinator) CancelEvent(requestID string) error {
	return nil
}

// LastSingleStepGVA returns the instruction pointer recorded when cpuNum's
// step was armed. The breakpoint engine uses this to recover which address
// was stepped over.
func (c *Coordinator) LastSingleStepGVA(cpuNum int) uint64 {
	return c.lastIP[cpuNum]
}

// Owner returns the request ID that armed the currently outstanding
// step on cpuNum, or "" if none is armed. Consumers that arm a step of
// their own (e.g. the breakpoint engine) compare this against the ID they
// received from RequestEvent before trusting LastSingleStepGVA, in case a
// second party armed a step on the same CPU in the meantime.
func (c *Coordinator) Owner(cpuNum int) string {
	return c.owner[cpuNum]
}

func (c *Coordinator) onSingleStep(event types.Event) {
	ss, ok := event.(types.SingleStepEvent)
	if !ok {
		return
	}
	if c.armed[ss.CPU] == types.SingleStepMethodNone {
		logger.Warn().Int("cpu", ss.CPU).Msg("single-step event with nothing armed")
		return
	}
	if err := c.featureUpdate(false, c.armed[ss.CPU], ss.CPU); err != nil {
		logger.Error().Err(err).Int("cpu", ss.CPU).Msg("disarm single-step feature")
	}
	logger.Debug().Int("cpu", ss.CPU).Uint64("pc", c.lastIP[ss.CPU]).Msg("single step")

	c.armed[ss.CPU] = types.SingleStepMethodNone
	c.owner[ss.CPU] = ""
}

func (c *Coordinator) featureUpdate(enable bool, method types.SingleStepMethod, cpuNum int) error {
	switch method {
	case types.SingleStepMethodMTF:
		return c.hv.UpdateFeatureMTF(cpuNum, enable)
	case types.SingleStepMethodDebug:
		return c.hv.UpdateFeatureDebug(cpuNum, enable)
	default:
		return fmt.Errorf("single-step cpu %d: unexpected method %s", cpuNum, method)
	}
}
