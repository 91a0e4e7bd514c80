// Package vm implements the virtual-machine facade: the single point
// through which plugins read/write guest memory, translate addresses, and
// read CPU/LBR state. Per-stop state (vCPU snapshots, LBR buffers) is
// memoized and invalidated by a continue-hook, so repeated reads within the
// same stop don't re-query the hypervisor.
package vm

import (
	"fmt"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/types"
)

var logger = log.WithComponent("vm")

// pageShift is the guest page size exponent (4K pages).
const pageShift = 12

// VM is the architecture-neutral virtual-machine facade. X86 and AArch64
// wrap it to add architecture-specific behavior (LBR refcounting on x86).
type VM struct {
	hv  hv.Hypervisor
	arch types.Arch

	cpuCache map[int]types.CPUState
}

// New constructs a VM facade bound to hv and registers its continue-hook
// with em to invalidate the per-stop cache before every resume.
func New(h hv.Hypervisor, arch types.Arch, em *events.Manager) *VM {
	v := &VM{hv: h, arch: arch, cpuCache: make(map[int]types.CPUState)}
	em.AddContinueHook(v.invalidate)
	return v
}

func (v *VM) invalidate() {
	v.cpuCache = make(map[int]types.CPUState)
}

// Arch reports the architecture this facade is bound to.
func (v *VM) Arch() types.Arch { return v.arch }

// PhysMemSize returns the size of guest physical memory, in bytes.
func (v *VM) PhysMemSize() uint64 { return v.hv.RAMSize() }

// PhysMemRead reads size bytes of guest physical memory at addr.
func (v *VM) PhysMemRead(addr uint64, size int) ([]byte, error) {
	return v.hv.ReadPhysMem(addr, size)
}

// PhysMemWrite writes buf to guest physical memory at addr.
func (v *VM) PhysMemWrite(addr uint64, buf []byte) error {
	return v.hv.WritePhysMem(addr, buf)
}

// Vtop translates a guest virtual address to a guest physical address. If
// dtb is nil, the page table base of cpuNum (0 if cpuNum is nil) is used.
func (v *VM) Vtop(addr uint64, dtb *uint64, cpuNum *int) (uint64, error) {
	var base uint64
	if dtb != nil {
		base = *dtb
	} else {
		cn := 0
		if cpuNum != nil {
			cn = *cpuNum
		}
		state, err := v.CPU(cn)
		if err != nil {
			return 0, err
		}
		base = v.pageTableBase(state)
	}
	return v.hv.Vtop(addr, base)
}

// pageTableBase is overridden conceptually by architecture (CR3 vs TTBR);
// this neutral facade has no register layout knowledge, so it expects
// CPUState.Raw[0:8] to hold the little-endian page table base when the
// caller relies on cpu-implied translation rather than passing dtb
// explicitly. Architecture facades that need more structure should read
// CPUState.Raw themselves rather than going through Vtop.
func (v *VM) pageTableBase(state types.CPUState) uint64 {
	if len(state.Raw) < 8 {
		return 0
	}
	var base uint64
	for i := 0; i < 8; i++ {
		base |= uint64(state.Raw[i]) << (8 * i)
	}
	return base
}

// MemRead translates addr through dtb/cpuNum and reads size bytes of
// guest memory at the resulting physical address.
func (v *VM) MemRead(addr uint64, size int, dtb *uint64, cpuNum *int) ([]byte, error) {
	phys, err := v.Vtop(addr, dtb, cpuNum)
	if err != nil {
		return nil, fmt.Errorf("mem read at 0x%x: %w", addr, err)
	}
	return v.PhysMemRead(phys, size)
}

// MemWrite translates addr through dtb/cpuNum and writes buf to guest
// memory at the resulting physical address.
func (v *VM) MemWrite(addr uint64, buf []byte, dtb *uint64, cpuNum *int) error {
	phys, err := v.Vtop(addr, dtb, cpuNum)
	if err != nil {
		return fmt.Errorf("mem write at 0x%x: %w", addr, err)
	}
	return v.PhysMemWrite(phys, buf)
}

// ReadPointer reads a width-byte (8 if zero) little-endian pointer value
// from guest virtual memory.
func (v *VM) ReadPointer(addr uint64, width int, dtb *uint64, cpuNum *int) (uint64, error) {
	if width == 0 {
		width = 8
	}
	buf, err := v.MemRead(addr, width, dtb, cpuNum)
	if err != nil {
		return 0, err
	}
	var ptr uint64
	for i := 0; i < width && i < 8; i++ {
		ptr |= uint64(buf[i]) << (8 * i)
	}
	return ptr, nil
}

// CPUCount reports the number of vCPUs.
func (v *VM) CPUCount() int { return v.hv.NumCPUs() }

// CPU returns the memoized register snapshot for cpuNum, querying the
// hypervisor on first access within the current stop.
func (v *VM) CPU(cpuNum int) (types.CPUState, error) {
	if cpuNum < 0 || cpuNum >= v.CPUCount() {
		return types.CPUState{}, fmt.Errorf("cpu %d: out of range (have %d)", cpuNum, v.CPUCount())
	}
	if state, ok := v.cpuCache[cpuNum]; ok {
		return state, nil
	}
	state, err := v.hv.CPUState(cpuNum)
	if err != nil {
		return types.CPUState{}, fmt.Errorf("cpu state %d: %w", cpuNum, err)
	}
	v.cpuCache[cpuNum] = state
	return state, nil
}

// UpdatePermissions stages or commits SLP permission bits for a guest
// frame. This is a thin pass-through to the hypervisor; pkg/slp owns the
// merge/commit protocol on top of it.
func (v *VM) UpdatePermissions(gfn uint64, perm types.Perm) error {
	return v.hv.UpdateFeatureSLP(gfn, perm)
}
