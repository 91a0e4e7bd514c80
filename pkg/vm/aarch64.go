package vm

import (
	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/types"
)

// AArch64 is the aarch64 VM facade. It has the same per-stop CPU cache and
// continue-hook invalidation as the base VM, but no LBR refcounting — the
// feature does not exist on this architecture.
type AArch64 struct {
	*VM
}

// NewAArch64 constructs an aarch64 VM facade.
func NewAArch64(h hv.Hypervisor, em *events.Manager) *AArch64 {
	return &AArch64{VM: New(h, types.ArchAArch64, em)}
}
