package hv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

// FakeHypervisor is an in-memory Hypervisor used by tests and by
// `vmicore inspect`. It keeps guest physical memory in a plain byte slice,
// a flat page table for Vtop, and a queue of events fed in by test code via
// PushEvent.
type FakeHypervisor struct {
	mu sync.Mutex

	ram      []byte
	pageTbl  map[uint64]uint64 // vpn -> ppn; pages not in the map do not translate
	cpus     []types.CPUState
	lbr      map[int][]types.LBREntry
	perms    map[uint64]types.Perm
	events   []types.Event
	stopped  bool
	shutdown bool

	breakpoints map[uint64]bool
	taskSwitch  map[string]bool
}

// NewFakeHypervisor returns a FakeHypervisor with ramSize bytes of zeroed
// guest memory and numCPUs vCPUs, all parked at instruction pointer 0.
func NewFakeHypervisor(ramSize uint64, numCPUs int) *FakeHypervisor {
	cpus := make([]types.CPUState, numCPUs)
	for i := range cpus {
		cpus[i] = types.CPUState{CPU: i}
	}
	return &FakeHypervisor{
		ram:     make([]byte, ramSize),
		pageTbl: make(map[uint64]uint64),
		cpus:    cpus,
		lbr:     make(map[int][]types.LBREntry),
		perms:   make(map[uint64]types.Perm),

		breakpoints: make(map[uint64]bool),
		taskSwitch:  make(map[string]bool),
	}
}

func (f *FakeHypervisor) Init(ctx context.Context) error   { return nil }
func (f *FakeHypervisor) Uninit(ctx context.Context) error { return nil }

// Healthy implements metrics.HealthSource: the fake hypervisor is healthy
// until RequestShutdown has been called.
func (f *FakeHypervisor) Healthy() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return false, "shutdown requested"
	}
	return true, ""
}

// PushEvent queues an event for the next WaitEvent/GetEvent call to return.
func (f *FakeHypervisor) PushEvent(e types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *FakeHypervisor) WaitEvent(ctx context.Context, timeout time.Duration) (types.Event, error) {
	return f.GetEvent(), nil
}

func (f *FakeHypervisor) GetEvent() types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e
}

func (f *FakeHypervisor) RequestStop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *FakeHypervisor) RequestShutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	f.events = append(f.events, types.VMShutdownEvent{})
	return nil
}

func (f *FakeHypervisor) RAMSize() uint64 { return uint64(len(f.ram)) }

func (f *FakeHypervisor) ReadPhysMem(addr uint64, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr+uint64(size) > uint64(len(f.ram)) {
		return nil, fmt.Errorf("read phys mem at 0x%x size %d: out of range", addr, size)
	}
	out := make([]byte, size)
	copy(out, f.ram[addr:addr+uint64(size)])
	return out, nil
}

func (f *FakeHypervisor) WritePhysMem(addr uint64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr+uint64(len(buf)) > uint64(len(f.ram)) {
		return fmt.Errorf("write phys mem at 0x%x size %d: out of range", addr, len(buf))
	}
	copy(f.ram[addr:addr+uint64(len(buf))], buf)
	return nil
}

// SetMapping installs a vpn->ppn mapping (both page numbers, i.e. addr>>12)
// for use by Vtop. Vtop fails with ErrTranslation for unmapped pages.
func (f *FakeHypervisor) SetMapping(vpn, ppn uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageTbl[vpn] = ppn
}

func (f *FakeHypervisor) Vtop(addr uint64, dtb uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	const pageShift = 12
	vpn := addr >> pageShift
	ppn, ok := f.pageTbl[vpn]
	if !ok {
		return 0, fmt.Errorf("vtop 0x%x (dtb 0x%x): %w", addr, dtb, vmierrors.ErrTranslation)
	}
	return (ppn << pageShift) | (addr & 0xfff), nil
}

func (f *FakeHypervisor) NumCPUs() int { return len(f.cpus) }

func (f *FakeHypervisor) CPUState(cpuNum int) (types.CPUState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cpuNum < 0 || cpuNum >= len(f.cpus) {
		return types.CPUState{}, fmt.Errorf("cpu %d: %w", cpuNum, vmierrors.ErrNotFound)
	}
	return f.cpus[cpuNum], nil
}

// SetCPUState overwrites the cached register snapshot for a vCPU, letting
// tests simulate the guest advancing.
func (f *FakeHypervisor) SetCPUState(s types.CPUState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.CPU >= 0 && s.CPU < len(f.cpus) {
		f.cpus[s.CPU] = s
	}
}

func (f *FakeHypervisor) UpdateFeatureDebug(cpuNum int, enable bool) error { return nil }
func (f *FakeHypervisor) UpdateFeatureMTF(cpuNum int, enable bool) error  { return nil }

func (f *FakeHypervisor) UpdateFeatureLBR(cpuNum int, enable bool, fromIP uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !enable {
		delete(f.lbr, cpuNum)
	} else if _, ok := f.lbr[cpuNum]; !ok {
		f.lbr[cpuNum] = nil
	}
	return nil
}

func (f *FakeHypervisor) LBRGet(cpuNum int) ([]types.LBREntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.lbr[cpuNum]
	if !ok {
		return nil, fmt.Errorf("lbr not enabled on cpu %d: %w", cpuNum, vmierrors.ErrQemuFeature)
	}
	return entries, nil
}

// PushLBREntry appends a recorded branch for a vCPU, for use by tests that
// exercise LBR consumers.
func (f *FakeHypervisor) PushLBREntry(cpuNum int, e types.LBREntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lbr[cpuNum] = append(f.lbr[cpuNum], e)
}

func (f *FakeHypervisor) UpdateFeatureSLP(gfn uint64, perm types.Perm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[gfn] = perm
	return nil
}

// Perm returns the last committed permission tuple for a guest frame, for
// use by tests asserting on SLP coordinator behavior.
func (f *FakeHypervisor) Perm(gfn uint64) types.Perm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perms[gfn]
}

func (f *FakeHypervisor) UpdateFeatureTaskSwitch(enable bool, reg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enable {
		f.taskSwitch[reg] = true
	} else {
		delete(f.taskSwitch, reg)
	}
	return nil
}

// TaskSwitchEnabled reports whether address-space-switch trapping is
// currently armed for reg, for use by tests asserting on the task-switch
// coordinator's enable/disable timing.
func (f *FakeHypervisor) TaskSwitchEnabled(reg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskSwitch[reg]
}

func (f *FakeHypervisor) UpdateFeatureBreakpoint(gpa uint64, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enable {
		f.breakpoints[gpa] = true
	} else {
		delete(f.breakpoints, gpa)
	}
	return nil
}

// BreakpointInstalled reports whether a hardware debug breakpoint is
// currently armed at gpa, for use by tests asserting on the breakpoint
// engine's Armed/Hidden state transitions.
func (f *FakeHypervisor) BreakpointInstalled(gpa uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.breakpoints[gpa]
}
