package report

import (
	"sort"

	"github.com/arctir/zb/counters"
	"github.com/arctir/zb/proctree"
)

// GroupRow is one line of the group-by-command view.
type GroupRow struct {
	Label          string
	SelfOnCPU      counters.Value
	SelfCPUPct     float64
	TreeCPUPct     float64
	AvgRSS         uint64
	MaxRSS         uint64
	BytesReadWrite counters.Value
	Execs          int
}

type groupAccum struct {
	label        string
	selfOnCPU    uint64
	selfKnown    bool
	wallTotal    int64
	treeOnCPU    uint64
	treeKnown    bool
	rssSum       uint64
	rssCount     int
	maxRSS       uint64
	bytesRW      uint64
	bytesKnown   bool
	execs        int
}

// GroupBy buckets every record reachable from the table's root by its
// command fingerprint and returns one row per bucket, sorted ascending by
// summed self on-CPU time (most CPU-intensive last). Records linked under
// the synthetic orphan root are not included.
func GroupBy(table *proctree.Table) []GroupRow {
	root := table.Root()
	if root == nil {
		return nil
	}

	groups := map[string]*groupAccum{}
	var order []string

	var visit func(r *proctree.Record) uint64
	visit = func(r *proctree.Record) uint64 {
		key := fingerprint(r.Argv)
		acc, ok := groups[key]
		if !ok {
			acc = &groupAccum{label: key}
			groups[key] = acc
			order = append(order, key)
		}

		delta := counters.Delta(r.CountersInitial, r.CountersFinal)
		wall := r.EndWall - r.StartWall

		if delta.OnCPU.Known {
			acc.selfOnCPU += delta.OnCPU.N
			acc.selfKnown = true
			acc.treeKnown = true
		}
		acc.wallTotal += int64(wall)

		if r.CountersFinal.RSSHighWater.Known {
			acc.rssSum += r.CountersFinal.RSSHighWater.N
			acc.rssCount++
			if r.CountersFinal.RSSHighWater.N > acc.maxRSS {
				acc.maxRSS = r.CountersFinal.RSSHighWater.N
			}
		}

		if delta.BytesRead.Known && delta.BytesWritten.Known {
			acc.bytesRW += delta.BytesRead.N + delta.BytesWritten.N
			acc.bytesKnown = true
		}

		acc.execs++

		subtreeOnCPU, _ := onCPUNanos(delta.OnCPU)
		for _, childIdx := range r.Children {
			if child, ok := table.ByIndex(childIdx); ok {
				subtreeOnCPU += visit(child)
			}
		}
		acc.treeOnCPU += subtreeOnCPU
		return subtreeOnCPU
	}
	visit(root)

	rows := make([]GroupRow, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		row := GroupRow{
			Label:  acc.label,
			Execs:  acc.execs,
			MaxRSS: acc.maxRSS,
		}
		if acc.selfKnown {
			row.SelfOnCPU = counters.Known(acc.selfOnCPU)
		} else {
			row.SelfOnCPU = counters.Unknown
		}
		if acc.wallTotal > 0 {
			if acc.selfKnown {
				row.SelfCPUPct = float64(acc.selfOnCPU) / float64(acc.wallTotal) * 100
			}
			if acc.treeKnown {
				row.TreeCPUPct = float64(acc.treeOnCPU) / float64(acc.wallTotal) * 100
			}
		}
		if acc.rssCount > 0 {
			row.AvgRSS = acc.rssSum / uint64(acc.rssCount)
		}
		if acc.bytesKnown {
			row.BytesReadWrite = counters.Known(acc.bytesRW)
		} else {
			row.BytesReadWrite = counters.Unknown
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return lessByOnCPU(rows[i].SelfOnCPU, rows[j].SelfOnCPU)
	})

	return rows
}

// lessByOnCPU orders unknown values first, ascending by known value
// otherwise, so the most CPU-intensive bucket sorts last.
func lessByOnCPU(a, b counters.Value) bool {
	if !a.Known && !b.Known {
		return false
	}
	if !a.Known {
		return true
	}
	if !b.Known {
		return false
	}
	return a.N < b.N
}
