// Package hv defines the boundary between the runtime and the hypervisor
// process it is embedded in. Hypervisor is the narrow interface every other
// package programs against; OSFacade is the optional guest-OS-aware layer
// built on top of it. Production builds bind Hypervisor to a real QEMU/KVM
// (or similar) control channel; this package only ships the interface plus
// an in-memory Fake used by tests and by `vmicore inspect`.
package hv

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

// Hypervisor is everything the runtime needs from the process it is
// embedded in: lifecycle control, the single suspension point the run loop
// polls, and the memory/CPU/feature operations every coordinator plugin
// drives.
type Hypervisor interface {
	// Init prepares the hypervisor connection. It must be called before
	// any other method.
	Init(ctx context.Context) error
	// Uninit tears down the hypervisor connection.
	Uninit(ctx context.Context) error

	// WaitEvent blocks the VM for up to the given duration waiting for a
	// hypervisor-side event (breakpoint trap, single step, SLP
	// violation, task switch, shutdown). It returns nil if no event
	// arrived before the deadline.
	WaitEvent(ctx context.Context, timeout time.Duration) (types.Event, error)
	// GetEvent drains one additional queued event without blocking, or
	// returns nil if none is pending. The run loop calls this in a loop
	// after WaitEvent to drain a burst of events delivered together.
	GetEvent() types.Event

	// RequestStop asks the hypervisor to pause the VM at its next
	// opportunity, without destroying it.
	RequestStop(ctx context.Context) error
	// RequestShutdown asks the hypervisor to power off and destroy the
	// VM.
	RequestShutdown(ctx context.Context) error

	// RAMSize reports the size of guest physical memory, in bytes.
	RAMSize() uint64
	// ReadPhysMem reads size bytes of guest physical memory at addr.
	ReadPhysMem(addr uint64, size int) ([]byte, error)
	// WritePhysMem writes buf to guest physical memory at addr.
	WritePhysMem(addr uint64, buf []byte) error

	// Vtop translates a guest virtual address to a guest physical
	// address using the given page table base (dtb). It returns
	// vmierrors.ErrTranslation if the address is not mapped.
	Vtop(addr uint64, dtb uint64) (uint64, error)

	// NumCPUs reports the number of vCPUs the guest has.
	NumCPUs() int
	// CPUState returns a snapshot of the given vCPU's registers. Callers
	// own the returned value; the hypervisor does not cache it.
	CPUState(cpuNum int) (types.CPUState, error)

	// UpdateFeatureDebug arms or disarms the debug-register single-step
	// trap on a vCPU.
	UpdateFeatureDebug(cpuNum int, enable bool) error
	// UpdateFeatureMTF arms or disarms the hardware Monitor Trap Flag
	// single-step mechanism on a vCPU.
	UpdateFeatureMTF(cpuNum int, enable bool) error

	// UpdateFeatureLBR enables or disables last-branch-record capture on
	// a vCPU. fromIP, if non-zero, restricts recording to branches
	// originating at that instruction pointer.
	UpdateFeatureLBR(cpuNum int, enable bool, fromIP uint64) error
	// LBRGet returns the current branch-record buffer for a vCPU.
	LBRGet(cpuNum int) ([]types.LBREntry, error)

	// UpdateFeatureSLP stages or commits permission bits for a guest
	// frame. See pkg/slp for the commit protocol.
	UpdateFeatureSLP(gfn uint64, perm types.Perm) error

	// UpdateFeatureBreakpoint installs or removes a hardware debug
	// breakpoint at a guest physical address, trapping across every
	// vCPU. See pkg/breakpoint for the stealth Armed/Hidden protocol
	// built on top of it.
	UpdateFeatureBreakpoint(gpa uint64, enable bool) error

	// UpdateFeatureTaskSwitch enables or disables address-space-switch
	// tracking. For x86_64 this tracks CR3; for aarch64 it tracks the
	// named TTBR/TCR register.
	UpdateFeatureTaskSwitch(enable bool, reg string) error
}

// OSFacade resolves guest-OS-specific structures. It is optional: plugins
// that only need raw memory/CPU access never touch it, and a NopOSFacade is
// installed until an OS plugin registers a real one.
type OSFacade interface {
	// ResolveSymbol returns the guest virtual address of a kernel symbol.
	// It returns vmierrors.ErrSymbolResolution if the symbol is unknown.
	ResolveSymbol(name string) (uint64, error)
	// CurrentTask returns an opaque identifier (e.g. a task_struct
	// pointer, or an EPROCESS pointer) for the task running on cpuNum at
	// the current stop.
	CurrentTask(cpuNum int) (uint64, error)
}

// NopOSFacade is the OSFacade installed before any OS plugin registers.
// Every method reports vmierrors.ErrSymbolResolution / vmierrors.ErrNotFound
// since it has no symbol table to draw from.
type NopOSFacade struct{}

func (NopOSFacade) ResolveSymbol(name string) (uint64, error) {
	return 0, fmt.Errorf("resolve symbol %q: %w", name, vmierrors.ErrSymbolResolution)
}

func (NopOSFacade) CurrentTask(cpuNum int) (uint64, error) {
	return 0, fmt.Errorf("current task on cpu %d: %w", cpuNum, vmierrors.ErrNotFound)
}
