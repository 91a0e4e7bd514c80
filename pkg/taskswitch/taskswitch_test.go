package taskswitch

import (
	"testing"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/types"
)

func newTestCoordinator(t *testing.T, arch types.Arch) (*Coordinator, *hv.FakeHypervisor, *events.Manager) {
	t.Helper()
	fake := hv.NewFakeHypervisor(1<<20, 2)
	em := events.New()
	c, err := New(fake, em, arch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fake, em
}

func TestRequestEventEnablesTrapOnFirstCoverage(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x1000)

	id, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty request id")
	}
	if !fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected task-switch trap enabled")
	}
	if c.ActiveFacetCount() != 1 {
		t.Errorf("ActiveFacetCount() = %d, want 1", c.ActiveFacetCount())
	}
}

func TestRequestEventSecondCoveredRequestDoesNotReEnable(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x2000)

	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true, Outgoing: true}); err != nil {
		t.Fatalf("RequestEvent 1: %v", err)
	}
	if !fake.TaskSwitchEnabled(x86Reg) {
		t.Fatal("expected trap enabled after first request")
	}

	// Disable the trap behind the coordinator's back to prove the second
	// request, already fully covered, does not re-enable it.
	_ = fake.UpdateFeatureTaskSwitch(false, x86Reg)

	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true}); err != nil {
		t.Fatalf("RequestEvent 2: %v", err)
	}
	if fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected already-covered request not to re-enable the trap")
	}
}

func TestRequestEventNewDirectionOnExistingDTBReEnables(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x3000)

	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true}); err != nil {
		t.Fatalf("RequestEvent 1: %v", err)
	}
	_ = fake.UpdateFeatureTaskSwitch(false, x86Reg)

	// Same dtb, but a direction (outgoing) no existing request covers.
	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Outgoing: true}); err != nil {
		t.Fatalf("RequestEvent 2: %v", err)
	}
	if !fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected trap re-enabled for uncovered direction")
	}
	if c.ActiveFacetCount() != 2 {
		t.Errorf("ActiveFacetCount() = %d, want 2", c.ActiveFacetCount())
	}
}

func TestCancelEventDisablesTrapWhenLastCoverageRemoved(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x4000)

	id, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if err := c.CancelEvent(id); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected trap disabled once the only request is canceled")
	}
	if c.ActiveFacetCount() != 0 {
		t.Errorf("ActiveFacetCount() = %d, want 0", c.ActiveFacetCount())
	}
}

func TestCancelEventKeepsTrapWhileOtherRequestRemains(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x5000)

	id1, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true})
	if err != nil {
		t.Fatalf("RequestEvent 1: %v", err)
	}
	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true}); err != nil {
		t.Fatalf("RequestEvent 2: %v", err)
	}

	if err := c.CancelEvent(id1); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if !fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected trap to remain enabled while a covering request exists")
	}
}

func TestAArch64RegisterKeyedCoverage(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, types.ArchAArch64)

	id, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{Reg: "TTBR0_EL1"})
	if err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}
	if !fake.TaskSwitchEnabled("TTBR0_EL1") {
		t.Error("expected TTBR0_EL1 trap enabled")
	}
	if err := c.CancelEvent(id); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if fake.TaskSwitchEnabled("TTBR0_EL1") {
		t.Error("expected TTBR0_EL1 trap disabled after cancel")
	}
}

func TestCancelEventUnknownRequestReturnsError(t *testing.T) {
	c, _, _ := newTestCoordinator(t, types.ArchX86_64)
	if err := c.CancelEvent("does-not-exist"); err == nil {
		t.Error("expected error canceling an unknown request")
	}
}

func TestUninitDisablesAllFacets(t *testing.T) {
	c, fake, em := newTestCoordinator(t, types.ArchX86_64)
	dtb := uint64(0x6000)
	if _, err := c.RequestEvent(types.KindTaskSwitch, types.TaskSwitchParams{DTB: &dtb, Incoming: true}); err != nil {
		t.Fatalf("RequestEvent: %v", err)
	}

	if err := c.Uninit(); err != nil {
		t.Fatalf("Uninit: %v", err)
	}
	if fake.TaskSwitchEnabled(x86Reg) {
		t.Error("expected trap disabled after Uninit")
	}
	if c.ActiveFacetCount() != 0 {
		t.Errorf("ActiveFacetCount() = %d, want 0", c.ActiveFacetCount())
	}

	// Re-registering after Uninit unregistered the producer should succeed.
	if err := em.Register(c, types.KindTaskSwitch); err != nil {
		t.Fatalf("re-register after Uninit: %v", err)
	}
}
