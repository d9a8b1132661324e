package proctree

import (
	"fmt"
	"time"

	"github.com/arctir/zb/counters"
)

// orphanRootIndex is the synthetic root a child is attached under when its
// parent was never observed — for instance when the kernel interface reports
// a child's first stop before its parent's fork notification — so the child
// is kept rather than lost.
const orphanRootIndex = 0

// Table holds every Record observed so far, keyed by pid for lookup during
// the event loop and by DisplayIndex for stable external identity.
type Table struct {
	byPID  map[int]*Record
	byIdx  map[int]*Record
	live   map[int]*Record
	next   int
	root   *Record
	orphan *Record
}

// NewTable returns an empty Table ready to receive the root process.
func NewTable() *Table {
	return &Table{
		byPID: map[int]*Record{},
		byIdx: map[int]*Record{},
		live:  map[int]*Record{},
		next:  1,
	}
}

// Insert creates a new live record for pid at the given wall offset,
// failing if pid already maps to a live record. The first Insert becomes
// the tree root.
func (t *Table) Insert(pid, ppid int, now time.Duration) (*Record, error) {
	if _, exists := t.live[pid]; exists {
		return nil, fmt.Errorf("proctree: pid %d already has a live record", pid)
	}
	r := &Record{
		PID:          pid,
		PPID:         ppid,
		DisplayIndex: t.next,
		StartWall:    now,
	}
	t.next++
	t.byPID[pid] = r
	t.byIdx[r.DisplayIndex] = r
	t.live[pid] = r
	if t.root == nil {
		t.root = r
	}
	return r, nil
}

// AttachToParent appends child to its parent's Children list. If the
// parent pid was never observed, child is linked under a synthetic orphan
// root instead of being dropped.
func (t *Table) AttachToParent(child *Record) {
	parent, ok := t.byPID[child.PPID]
	if !ok {
		parent = t.orphanRoot()
	}
	parent.Children = append(parent.Children, child.DisplayIndex)
}

// orphanRoot lazily creates the synthetic record that unattributable
// children are linked under, so the tree always has a single traversable
// root even when a parent pid race can't be resolved.
func (t *Table) orphanRoot() *Record {
	if t.orphan != nil {
		return t.orphan
	}
	t.orphan = &Record{
		PID:          orphanRootIndex,
		DisplayIndex: orphanRootIndex,
		Argv:         []string{"<orphaned descendants>"},
	}
	t.byIdx[orphanRootIndex] = t.orphan
	return t.orphan
}

// HasOrphans reports whether any child was ever attached to the synthetic
// orphan root, so the report surface can warn about it.
func (t *Table) HasOrphans() bool {
	return t.orphan != nil && len(t.orphan.Children) > 0
}

// Get returns the live or sealed record for pid, if any.
func (t *Table) Get(pid int) (*Record, bool) {
	r, ok := t.byPID[pid]
	return r, ok
}

// Root returns the top-level record the engine spawned, or nil if nothing
// has been inserted yet.
func (t *Table) Root() *Record {
	return t.root
}

// ByIndex returns the record with the given DisplayIndex, if any.
func (t *Table) ByIndex(idx int) (*Record, bool) {
	r, ok := t.byIdx[idx]
	return r, ok
}

// Seal finalizes a live record: sets EndWall/ExitStatus/CountersFinal and
// removes it from the live index. The record remains reachable through the
// tree by pid and display index.
func (t *Table) Seal(pid int, now time.Duration, exitStatus int, final counters.Snapshot) error {
	r, ok := t.live[pid]
	if !ok {
		return fmt.Errorf("proctree: pid %d has no live record to seal", pid)
	}
	r.EndWall = now
	r.ExitStatus = exitStatus
	r.CountersFinal = final
	r.sealed = true
	delete(t.live, pid)
	return nil
}

// LiveCount returns the number of unsealed records; zero signals the event
// loop should terminate.
func (t *Table) LiveCount() int {
	return len(t.live)
}

// SealedCount returns the number of sealed records, counting each pid
// instance separately. Live records and the synthetic orphan root are not
// counted.
func (t *Table) SealedCount() int {
	n := 0
	for _, r := range t.byIdx {
		if r.sealed {
			n++
		}
	}
	return n
}
