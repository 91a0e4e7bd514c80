package singlestep

import (
	"errors"
	"testing"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vm"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

func newTestCoordinator(t *testing.T, arch types.Arch) (*Coordinator, *hv.FakeHypervisor, *events.Manager) {
	t.Helper()
	fake := hv.NewFakeHypervisor(4096, 2)
	em := events.New()
	v := vm.New(fake, arch, em)
	c, err := New(fake, v, em, arch, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fake, em
}

func TestDefaultMethodPerArch(t *testing.T) {
	cx86, _, _ := newTestCoordinator(t, types.ArchX86_64)
	if cx86.defaultMethod != types.SingleStepMethodMTF {
		t.Errorf("x86 default = %v, want MTF", cx86.defaultMethod)
	}
	carm, _, _ := newTestCoordinator(t, types.ArchAArch64)
	if carm.defaultMethod != types.SingleStepMethodDebug {
		t.Errorf("aarch64 default = %v, want Debug", carm.defaultMethod)
	}
}

func TestRequestEventArmsAndRecordsIP(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	fake.SetCPUState(types.CPUState{CPU: 0, InstructionPtr: 0x4000})

	cpu := 0
	reqID, err := c.RequestEvent(types.KindSingleStep, types.SingleStepParams{CPU: &cpu})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if reqID == "" {
		t.Error("expected non-empty request id")
	}
	if c.armed[0] != types.SingleStepMethodMTF {
		t.Errorf("armed[0] = %v, want MTF", c.armed[0])
	}
	if c.LastSingleStepGVA(0) != 0x4000 {
		t.Errorf("LastSingleStepGVA = 0x%x, want 0x4000", c.LastSingleStepGVA(0))
	}
	if c.Owner(0) != reqID {
		t.Errorf("Owner(0) = %q, want %q", c.Owner(0), reqID)
	}
}

func TestRequestEventConflict(t *testing.T) {
	c, _, _ := newTestCoordinator(t, types.ArchX86_64)
	cpu := 0
	debug := types.SingleStepMethodDebug
	mtf := types.SingleStepMethodMTF

	if _, err := c.RequestEvent(types.KindSingleStep, types.SingleStepParams{CPU: &cpu, Method: &mtf}); err != nil {
		t.Fatalf("first RequestEvent: %v", err)
	}
	_, err := c.RequestEvent(types.KindSingleStep, types.SingleStepParams{CPU: &cpu, Method: &debug})
	if err == nil {
		t.Fatal("expected ErrMethodConflict")
	}
	if !errors.Is(err, vmierrors.ErrMethodConflict) {
		t.Errorf("expected ErrMethodConflict, got %v", err)
	}
}

func TestSelfDisarmOnSingleStepEvent(t *testing.T) {
	c, _, em := newTestCoordinator(t, types.ArchX86_64)
	cpu := 0
	if _, err := c.RequestEvent(types.KindSingleStep, types.SingleStepParams{CPU: &cpu}); err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if c.armed[0] == types.SingleStepMethodNone {
		t.Fatal("expected armed before event")
	}

	em.PutEvent(types.SingleStepEvent{CPU: 0, Method: types.SingleStepMethodMTF})
	em.CallContinueHooks() // no-op here, but exercises the same path RunLoop would take
	c.onSingleStep(types.SingleStepEvent{CPU: 0, Method: types.SingleStepMethodMTF})

	if c.armed[0] != types.SingleStepMethodNone {
		t.Errorf("armed[0] = %v after self-disarm, want None", c.armed[0])
	}
	if c.Owner(0) != "" {
		t.Errorf("Owner(0) = %q after self-disarm, want empty", c.Owner(0))
	}
}

func TestCancelEventIsNoop(t *testing.T) {
	c, _, _ := newTestCoordinator(t, types.ArchX86_64)
	if err := c.CancelEvent("anything"); err != nil {
		t.Errorf("CancelEvent: %v", err)
	}
}
