package vm

import (
	"fmt"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/types"
)

// X86 wraps VM with x86_64-specific last-branch-record refcounting: the
// hypervisor-level LBR feature is shared by reference count across
// subscribers, so the Nth caller to enable it is free and only the last
// caller to disable it actually turns it off.
type X86 struct {
	*VM

	lbrEnabled []int
	lbrCache   map[int][]types.LBREntry
}

// NewX86 constructs an x86_64 VM facade.
func NewX86(h hv.Hypervisor, em *events.Manager) *X86 {
	base := New(h, types.ArchX86_64, em)
	x := &X86{
		VM:         base,
		lbrEnabled: make([]int, h.NumCPUs()),
		lbrCache:   make(map[int][]types.LBREntry),
	}
	em.AddContinueHook(x.invalidateLBR)
	return x
}

func (x *X86) invalidateLBR() {
	x.lbrCache = make(map[int][]types.LBREntry)
}

// LBREnable increments the refcount for cpuNum (or every CPU if cpuNum is
// nil) and asks the hypervisor to enable LBR capture only on the 0->1
// transition.
func (x *X86) LBREnable(cpuNum *int) error {
	if cpuNum == nil {
		for i := range x.lbrEnabled {
			if err := x.bumpLBR(i, 1); err != nil {
				return err
			}
		}
		return nil
	}
	return x.bumpLBR(*cpuNum, 1)
}

// LBRDisable decrements the refcount for cpuNum (or every CPU if cpuNum is
// nil) and asks the hypervisor to disable LBR capture only on the 1->0
// transition.
func (x *X86) LBRDisable(cpuNum *int) error {
	if cpuNum == nil {
		for i := range x.lbrEnabled {
			if err := x.bumpLBR(i, -1); err != nil {
				return err
			}
		}
		return nil
	}
	return x.bumpLBR(*cpuNum, -1)
}

func (x *X86) bumpLBR(cpuNum int, delta int) error {
	if cpuNum < 0 || cpuNum >= len(x.lbrEnabled) {
		return fmt.Errorf("lbr: cpu %d out of range", cpuNum)
	}
	before := x.lbrEnabled[cpuNum]
	x.lbrEnabled[cpuNum] += delta
	after := x.lbrEnabled[cpuNum]

	if before == 0 && after == 1 {
		return x.hv.UpdateFeatureLBR(cpuNum, true, 0)
	}
	if before == 1 && after == 0 {
		return x.hv.UpdateFeatureLBR(cpuNum, false, 0)
	}
	return nil
}

// LBR returns the memoized branch-record buffer for cpuNum, querying the
// hypervisor on first access within the current stop. It returns an error
// if LBR is not currently enabled on that CPU (its refcount is zero).
func (x *X86) LBR(cpuNum int) ([]types.LBREntry, error) {
	if cpuNum < 0 || cpuNum >= len(x.lbrEnabled) || x.lbrEnabled[cpuNum] == 0 {
		return nil, fmt.Errorf("lbr was never enabled for cpu %d", cpuNum)
	}
	if entries, ok := x.lbrCache[cpuNum]; ok {
		return entries, nil
	}
	entries, err := x.hv.LBRGet(cpuNum)
	if err != nil {
		return nil, fmt.Errorf("lbr get cpu %d: %w", cpuNum, err)
	}
	x.lbrCache[cpuNum] = entries
	return entries, nil
}
