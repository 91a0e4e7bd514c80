package hv

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

func TestFakeHypervisorMemRoundTrip(t *testing.T) {
	f := NewFakeHypervisor(4096, 1)
	if err := f.WritePhysMem(0x10, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WritePhysMem: %v", err)
	}
	got, err := f.ReadPhysMem(0x10, 3)
	if err != nil {
		t.Fatalf("ReadPhysMem: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("ReadPhysMem = %v, want [1 2 3]", got)
	}
}

func TestFakeHypervisorMemOutOfRange(t *testing.T) {
	f := NewFakeHypervisor(16, 1)
	if _, err := f.ReadPhysMem(10, 100); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestFakeHypervisorVtop(t *testing.T) {
	f := NewFakeHypervisor(1<<20, 1)
	f.SetMapping(0x1, 0x2)
	phys, err := f.Vtop(0x1abc, 0)
	if err != nil {
		t.Fatalf("Vtop: %v", err)
	}
	if phys != 0x2abc {
		t.Errorf("Vtop = 0x%x, want 0x2abc", phys)
	}

	if _, err := f.Vtop(0xdead000, 0); !errors.Is(err, vmierrors.ErrTranslation) {
		t.Errorf("expected ErrTranslation, got %v", err)
	}
}

func TestFakeHypervisorEventQueue(t *testing.T) {
	f := NewFakeHypervisor(4096, 1)
	if e := f.GetEvent(); e != nil {
		t.Fatalf("expected nil on empty queue, got %v", e)
	}
	f.PushEvent(types.VMReadyEvent{})
	f.PushEvent(types.BreakpointEvent{CPU: 0, GPA: 0x1000})

	first := f.GetEvent()
	if _, ok := first.(types.VMReadyEvent); !ok {
		t.Errorf("expected VMReadyEvent first, got %T", first)
	}
	second := f.GetEvent()
	if _, ok := second.(types.BreakpointEvent); !ok {
		t.Errorf("expected BreakpointEvent second, got %T", second)
	}
	if e := f.GetEvent(); e != nil {
		t.Errorf("expected nil after drain, got %v", e)
	}
}

func TestFakeHypervisorShutdownQueuesEvent(t *testing.T) {
	f := NewFakeHypervisor(4096, 1)
	if err := f.RequestShutdown(context.Background()); err != nil {
		t.Fatalf("RequestShutdown: %v", err)
	}
	e := f.GetEvent()
	if _, ok := e.(types.VMShutdownEvent); !ok {
		t.Errorf("expected VMShutdownEvent, got %T", e)
	}
}

func TestFakeHypervisorLBR(t *testing.T) {
	f := NewFakeHypervisor(4096, 1)
	if _, err := f.LBRGet(0); !errors.Is(err, vmierrors.ErrQemuFeature) {
		t.Errorf("expected ErrQemuFeature before enable, got %v", err)
	}
	if err := f.UpdateFeatureLBR(0, true, 0); err != nil {
		t.Fatalf("UpdateFeatureLBR: %v", err)
	}
	f.PushLBREntry(0, types.LBREntry{From: 0x1, To: 0x2})
	entries, err := f.LBRGet(0)
	if err != nil {
		t.Fatalf("LBRGet: %v", err)
	}
	if len(entries) != 1 || entries[0].From != 0x1 {
		t.Errorf("LBRGet = %v, want one entry from 0x1", entries)
	}
}

func TestFakeHypervisorSLPPerm(t *testing.T) {
	f := NewFakeHypervisor(4096, 1)
	perm := types.Perm{R: true, W: false, X: true, Committed: true}
	if err := f.UpdateFeatureSLP(0x10, perm); err != nil {
		t.Fatalf("UpdateFeatureSLP: %v", err)
	}
	if got := f.Perm(0x10); got != perm {
		t.Errorf("Perm = %+v, want %+v", got, perm)
	}
}

func TestNopOSFacade(t *testing.T) {
	var facade = NopOSFacade{}
	if _, err := facade.ResolveSymbol("init_task"); !errors.Is(err, vmierrors.ErrSymbolResolution) {
		t.Errorf("expected ErrSymbolResolution, got %v", err)
	}
	if _, err := facade.CurrentTask(0); !errors.Is(err, vmierrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
