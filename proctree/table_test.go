package proctree

import (
	"testing"
	"time"

	"github.com/arctir/zb/counters"
	"github.com/davecgh/go-spew/spew"
)

func TestInsertAssignsDenseDisplayIndices(t *testing.T) {
	table := NewTable()

	root, err := table.Insert(100, 1, 0)
	if err != nil {
		t.Logf("unexpected error: %s", err)
		t.FailNow()
	}
	if root.DisplayIndex != 1 {
		t.Logf("expected root display index 1, got %d. record: %s", root.DisplayIndex, spew.Sdump(root))
		t.Fail()
	}

	child, err := table.Insert(101, 100, 10*time.Millisecond)
	if err != nil {
		t.Logf("unexpected error: %s", err)
		t.FailNow()
	}
	if child.DisplayIndex != 2 {
		t.Logf("expected child display index 2, got %d. record: %s", child.DisplayIndex, spew.Sdump(child))
		t.Fail()
	}
}

func TestInsertRejectsDuplicateLivePID(t *testing.T) {
	table := NewTable()
	if _, err := table.Insert(5, 1, 0); err != nil {
		t.Logf("unexpected error on first insert: %s", err)
		t.FailNow()
	}
	if _, err := table.Insert(5, 1, 0); err == nil {
		t.Logf("expected error inserting a pid that already has a live record")
		t.Fail()
	}
}

func TestAttachToParentBuildsChildList(t *testing.T) {
	table := NewTable()
	root, _ := table.Insert(1, 0, 0)
	child, _ := table.Insert(2, 1, time.Millisecond)
	table.AttachToParent(child)

	if len(root.Children) != 1 || root.Children[0] != child.DisplayIndex {
		t.Logf("expected root.Children to contain child's display index, got %s", spew.Sdump(root.Children))
		t.Fail()
	}
}

func TestAttachToParentFallsBackToOrphanRoot(t *testing.T) {
	table := NewTable()
	child, _ := table.Insert(9, 8, 0)
	table.AttachToParent(child)

	if !table.HasOrphans() {
		t.Logf("expected a child with unknown parent to be attached to the orphan root")
		t.Fail()
	}
}

func TestSealRemovesFromLiveIndex(t *testing.T) {
	table := NewTable()
	r, _ := table.Insert(1, 0, 0)
	if table.LiveCount() != 1 {
		t.Logf("expected live count 1, got %d", table.LiveCount())
		t.Fail()
	}

	final := counters.Snapshot{OnCPU: counters.Known(42)}
	if err := table.Seal(1, 5*time.Millisecond, 0, final); err != nil {
		t.Logf("unexpected error sealing: %s", err)
		t.FailNow()
	}
	if table.LiveCount() != 0 {
		t.Logf("expected live count 0 after seal, got %d", table.LiveCount())
		t.Fail()
	}
	if !r.Sealed() {
		t.Logf("expected record to report itself sealed")
		t.Fail()
	}
	if r.EndWall != 5*time.Millisecond {
		t.Logf("unexpected EndWall: %s", spew.Sdump(r))
		t.Fail()
	}
}

func TestSealUnknownPIDErrors(t *testing.T) {
	table := NewTable()
	if err := table.Seal(404, 0, 0, counters.Snapshot{}); err == nil {
		t.Logf("expected error sealing a pid with no live record")
		t.Fail()
	}
}
