// Package report walks a sealed proctree.Table and produces the two views
// spec'd for the engine's output: the hierarchical tree and the
// group-by-command rollup, plus the one-line run summary.
package report

import (
	"strings"
	"time"

	"github.com/arctir/zb/counters"
	"github.com/arctir/zb/proctree"
)

// TreeRow is one line of the pre-order tree view.
type TreeRow struct {
	DisplayIndex int
	Depth        int
	StartWall    time.Duration
	WallDuration time.Duration
	SelfCPUPct   float64
	TreeCPUPct   float64
	RSSHighWater counters.Value
	BytesRead    counters.Value
	BytesWritten counters.Value
	PageFaults   counters.Value
	MaxThreads   uint64
	ExitStatus   int
	Argv         string
}

// Tree walks table in pre-order from the root and returns one TreeRow per
// record reachable from the root, computing self and tree CPU% as it goes.
// Records linked under the synthetic orphan root are not included.
func Tree(table *proctree.Table) []TreeRow {
	root := table.Root()
	if root == nil {
		return nil
	}
	var rows []TreeRow
	walk(table, root, 0, &rows)
	return rows
}

func walk(table *proctree.Table, r *proctree.Record, depth int, rows *[]TreeRow) uint64 {
	delta := counters.Delta(r.CountersInitial, r.CountersFinal)
	wall := r.EndWall - r.StartWall

	row := TreeRow{
		DisplayIndex: r.DisplayIndex,
		Depth:        depth,
		StartWall:    r.StartWall,
		WallDuration: wall,
		SelfCPUPct:   ratio(delta.OnCPU, wall),
		RSSHighWater: r.CountersFinal.RSSHighWater,
		BytesRead:    delta.BytesRead,
		BytesWritten: delta.BytesWritten,
		PageFaults:   sumFaults(delta),
		MaxThreads:   r.MaxConcurrentThreads,
		ExitStatus:   r.ExitStatus,
		Argv:         strings.Join(r.Argv, " "),
	}
	*rows = append(*rows, row)
	idx := len(*rows) - 1

	treeOnCPUNanos, _ := onCPUNanos(delta.OnCPU)
	for _, childIdx := range r.Children {
		child, ok := table.ByIndex(childIdx)
		if !ok {
			continue
		}
		treeOnCPUNanos += walk(table, child, depth+1, rows)
	}

	if wall > 0 {
		(*rows)[idx].TreeCPUPct = float64(treeOnCPUNanos) / float64(wall.Nanoseconds()) * 100
	}

	return treeOnCPUNanos
}

func onCPUNanos(v counters.Value) (uint64, bool) {
	if !v.Known {
		return 0, false
	}
	return v.N, true
}

func ratio(v counters.Value, wall time.Duration) float64 {
	if !v.Known || wall <= 0 {
		return 0
	}
	return float64(v.N) / float64(wall.Nanoseconds()) * 100
}

func sumFaults(s counters.Snapshot) counters.Value {
	if !s.MinorFaults.Known || !s.MajorFaults.Known {
		return counters.Unknown
	}
	return counters.Known(s.MinorFaults.N + s.MajorFaults.N)
}
