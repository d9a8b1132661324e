package report

import (
	"fmt"
	"strings"

	"github.com/arctir/zb/counters"
	"github.com/arctir/zb/proctree"
)

// SummaryLine is the single-line run summary emitted after the tree and
// group-by views.
type SummaryLine struct {
	RootCommand string
	Commands    int
	WallSeconds float64
	TreeCPUPct  float64
	BytesRW     counters.Value
	PageFaults  counters.Value
	ExitStatus  int

	// Incomplete marks a run that ended via grace-period expiry with live
	// descendants still attached.
	Incomplete    bool
	DetachedCount int
}

// Summary computes the one-line run summary from the root record's totals.
// tree is the pre-order rows already produced by Tree(table) for this same
// table; the root's TreeCPUPct (rows[0], since Tree walks pre-order) is
// reused here rather than recomputed from the root's self on-CPU delta
// alone, since a shell that mostly waits on parallel children has ~0 self
// CPU but a tree-CPU aggregate that can exceed 100%.
func Summary(table *proctree.Table, tree []TreeRow) SummaryLine {
	root := table.Root()
	if root == nil {
		return SummaryLine{}
	}

	delta := counters.Delta(root.CountersInitial, root.CountersFinal)
	wall := root.EndWall - root.StartWall

	line := SummaryLine{
		RootCommand: strings.Join(root.Argv, " "),
		Commands:    table.SealedCount(),
		WallSeconds: wall.Seconds(),
		ExitStatus:  root.ExitStatus,
		BytesRW:     sumBytes(delta),
		PageFaults:  sumFaults(delta),
	}

	if len(tree) > 0 {
		line.TreeCPUPct = tree[0].TreeCPUPct
	}

	return line
}

func sumBytes(s counters.Snapshot) counters.Value {
	if !s.BytesRead.Known || !s.BytesWritten.Known {
		return counters.Unknown
	}
	return counters.Known(s.BytesRead.N + s.BytesWritten.N)
}

// String renders the summary as
// "<root-command> <N> commands <wall>s <tree-cpu>% <R+Wk>iops <PF> Exited <status>"
// with the grace-period incomplete marker appended when set.
func (s SummaryLine) String() string {
	cmd := s.RootCommand
	if cmd == "" {
		cmd = "<unknown>"
	}
	out := fmt.Sprintf("%s %d commands %.3fs %.1f%% %siops %s Exited %d",
		cmd, s.Commands, s.WallSeconds, s.TreeCPUPct, s.BytesRW, s.PageFaults, s.ExitStatus)
	if s.Incomplete {
		out += fmt.Sprintf(" (incomplete: %d descendants detached)", s.DetachedCount)
	}
	return out
}
