package breakpoint

import (
	"testing"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/singlestep"
	"github.com/cuemby/vmicore/pkg/slp"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vm"
)

func newTestEngine(t *testing.T) (*Coordinator, *hv.FakeHypervisor, *events.Manager) {
	t.Helper()
	fake := hv.NewFakeHypervisor(1<<20, 2)
	fake.SetMapping(0x1, 0x1) // identity map gpa 0x1000's vpn
	em := events.New()
	v := vm.New(fake, types.ArchX86_64, em)
	ssCoord, err := singlestep.New(fake, v, em, types.ArchX86_64, 2)
	if err != nil {
		t.Fatalf("singlestep.New: %v", err)
	}
	slpCoord, err := slp.New(fake, em)
	if err != nil {
		t.Fatalf("slp.New: %v", err)
	}
	c, err := New(fake, em, v, slpCoord, ssCoord, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fake, em
}

func TestRequestEventArmsBreakpoint(t *testing.T) {
	c, fake, _ := newTestEngine(t)
	gpa := uint64(0x1000)
	id, err := c.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &gpa})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty request id")
	}
	if !fake.BreakpointInstalled(gpa) {
		t.Error("expected hardware breakpoint installed")
	}
	perm := fake.Perm(gpa >> pageShift)
	if !perm.X || perm.R || perm.W {
		t.Errorf("perm = %+v, want X-only", perm)
	}
	if c.ArmedCount() != 1 {
		t.Errorf("ArmedCount() = %d, want 1", c.ArmedCount())
	}
}

func TestRWCallbackTransitionsToHidden(t *testing.T) {
	c, fake, _ := newTestEngine(t)
	gpa := uint64(0x2000)
	_, err := c.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &gpa})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}

	var b *breakpoint
	for _, bp := range c.breakpoints {
		b = bp
	}
	c.onRW(b)

	if fake.BreakpointInstalled(gpa) {
		t.Error("expected debug bp removed after rw callback")
	}
	if b.armed {
		t.Error("expected breakpoint in Hidden state")
	}
	perm := fake.Perm(gpa >> pageShift)
	if !perm.R || !perm.W || perm.X {
		t.Errorf("perm after rw callback = %+v, want RW-only", perm)
	}
}

func TestXCallbackTransitionsBackToArmed(t *testing.T) {
	c, fake, _ := newTestEngine(t)
	gpa := uint64(0x3000)
	_, err := c.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &gpa})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	var b *breakpoint
	for _, bp := range c.breakpoints {
		b = bp
	}
	c.onRW(b)
	c.onX(b)

	if !fake.BreakpointInstalled(gpa) {
		t.Error("expected debug bp reinstalled after x callback")
	}
	if !b.armed {
		t.Error("expected breakpoint back in Armed state")
	}
	perm := fake.Perm(gpa >> pageShift)
	if !perm.X || perm.R || perm.W {
		t.Errorf("perm after x callback = %+v, want X-only", perm)
	}
}

func TestCancelEventRemovesBreakpoint(t *testing.T) {
	c, fake, _ := newTestEngine(t)
	gpa := uint64(0x4000)
	id, err := c.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &gpa})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if err := c.CancelEvent(id); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if fake.BreakpointInstalled(gpa) {
		t.Error("expected debug bp removed after cancel")
	}
	if c.ArmedCount() != 0 {
		t.Errorf("ArmedCount() = %d, want 0", c.ArmedCount())
	}
}

func TestStepOverSynthesizesCleanBreakpointEvent(t *testing.T) {
	c, fake, em := newTestEngine(t)
	fake.SetMapping(0x1, 0x1) // gva page 0x1 -> gpa page 0x1, identity

	bpGpa := uint64(0x1000)
	if _, err := c.RequestEvent(types.KindBreakpoint, types.BreakpointParams{GPA: &bpGpa}); err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}

	// The stepped-over instruction pointer translates back to bpGpa.
	fake.SetCPUState(types.CPUState{CPU: 0, InstructionPtr: 0x1000})
	c.onBreakpointHit(types.BreakpointEvent{CPU: 0, GVA: 0x1000, GPA: bpGpa})

	if c.stepping[0] == nil {
		t.Fatal("expected step-over armed on cpu 0")
	}

	c.onSingleStep(types.SingleStepEvent{CPU: 0, Method: types.SingleStepMethodMTF})

	if c.stepping[0] != nil {
		t.Error("expected step-over cleared after single step")
	}

	found := false
	for _, e := range em.DrainQueue() {
		if bp, ok := e.(types.BreakpointEvent); ok && bp.GPA == bpGpa {
			found = true
		}
	}
	if !found {
		t.Error("expected a synthesized breakpoint event on the queue")
	}
}
