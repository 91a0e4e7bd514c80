package slp

import (
	"errors"
	"testing"

	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/singlestep"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vm"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

func newTestSLP(t *testing.T) (*Coordinator, *hv.FakeHypervisor, *events.Manager) {
	t.Helper()
	fake := hv.NewFakeHypervisor(1<<20, 2)
	em := events.New()
	v := vm.New(fake, types.ArchX86_64, em)
	if _, err := singlestep.New(fake, v, em, types.ArchX86_64, 2); err != nil {
		t.Fatalf("singlestep.New: %v", err)
	}
	c, err := New(fake, em)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fake, em
}

func TestUpdatePermissionsFirstRequestCommitsImmediately(t *testing.T) {
	c, fake, _ := newTestSLP(t)
	if err := c.UpdatePermissions(0x1000, false, false, true); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}
	got := fake.Perm(1)
	if !got.X || got.R || got.W {
		t.Errorf("perm = %+v, want X-only", got)
	}
}

func TestUpdatePermissionsMergesWithinSameStop(t *testing.T) {
	c, _, _ := newTestSLP(t)
	if err := c.UpdatePermissions(0x1000, true, false, false); err != nil {
		t.Fatalf("first UpdatePermissions: %v", err)
	}
	if err := c.UpdatePermissions(0x1000, false, true, false); err != nil {
		t.Fatalf("second UpdatePermissions: %v", err)
	}
	merged := c.perms[1]
	if !merged.R || !merged.W || merged.X {
		t.Errorf("merged = %+v, want R+W, no X", merged)
	}
	if merged.Committed {
		t.Error("merged request should be held uncommitted until continue hook")
	}
}

func TestUpdatePermissionsMutualExclusionViolation(t *testing.T) {
	c, _, _ := newTestSLP(t)
	if err := c.UpdatePermissions(0x2000, false, true, false); err != nil {
		t.Fatalf("first UpdatePermissions: %v", err)
	}
	err := c.UpdatePermissions(0x2000, false, false, true)
	if !errors.Is(err, vmierrors.ErrPermUpdateViolation) {
		t.Errorf("expected ErrPermUpdateViolation, got %v", err)
	}
}

func TestContinueHookFlushesUncommitted(t *testing.T) {
	c, fake, _ := newTestSLP(t)
	if err := c.UpdatePermissions(0x3000, true, false, false); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.UpdatePermissions(0x3000, false, true, false); err != nil {
		t.Fatalf("second: %v", err)
	}
	c.continueHook()

	got := fake.Perm(3)
	if !got.R || !got.W || got.X {
		t.Errorf("perm = %+v, want R+W, no X", got)
	}
	if len(c.perms) != 0 {
		t.Error("expected perms map cleared after continue hook")
	}
}

func TestMergeEventPermsRWXArmsSingleStepThenResolves(t *testing.T) {
	c, _, _ := newTestSLP(t)
	c.onViolation(types.SLPViolationEvent{CPU: 0, GPA: 0x4000, RWX: true})

	c.mergeEventPerms()

	if _, ok := c.rwxPending[0]; !ok {
		t.Fatal("expected rwx pending slot for cpu 0")
	}
	perm := c.perms[4]
	if !perm.R || !perm.W || !perm.X {
		t.Errorf("perm during rwx window = %+v, want RWX all true", perm)
	}

	c.resolveRWX(0)

	if _, ok := c.rwxPending[0]; ok {
		t.Error("expected rwx pending slot cleared after resolution")
	}
	restored := c.perms[4]
	if !restored.R || !restored.W || restored.X {
		t.Errorf("restored perm = %+v, want the default pre-fault R+W, no X", restored)
	}
}

func TestMergeEventPermsNonRWXRecovery(t *testing.T) {
	c, _, _ := newTestSLP(t)
	c.onViolation(types.SLPViolationEvent{CPU: 0, GPA: 0x5000, R: true})
	c.onViolation(types.SLPViolationEvent{CPU: 1, GPA: 0x6000, X: true})

	c.mergeEventPerms()

	rw := c.perms[5]
	if !rw.R || !rw.W || rw.X {
		t.Errorf("r/w fault recovery = %+v, want R+W, no X", rw)
	}
	xOnly := c.perms[6]
	if xOnly.R || xOnly.W || !xOnly.X {
		t.Errorf("x fault recovery = %+v, want X-only", xOnly)
	}
}
