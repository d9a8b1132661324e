// Package proctree holds the in-memory map from kernel pid to process
// record, the parent/child edges that reconstruct the traced subtree, and
// the monotonic display-index assignment used throughout reporting.
package proctree

import (
	"time"

	"github.com/arctir/zb/counters"
)

// Record is one observed process instance. A pid that exits and is reused
// later by the kernel produces a second, distinct Record.
type Record struct {
	PID          int
	PPID         int
	DisplayIndex int

	StartWall time.Duration
	EndWall   time.Duration

	Argv       []string
	ExitStatus int

	CountersInitial counters.Snapshot
	CountersFinal   counters.Snapshot

	// Children holds child DisplayIndex values, in first-observation order.
	// The report walks the tree by display index, not pid, since pids can
	// be reused within a single run.
	Children []int

	MaxConcurrentThreads uint64

	sealed bool
}

// Sealed reports whether Seal has finalized this record.
func (r *Record) Sealed() bool {
	return r.sealed
}
