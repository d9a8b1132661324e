package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Render writes the tree view, the group-by view, and the summary line to
// w, in that order. No terminal-width truncation is performed: that's left
// to the rendering collaborator the core treats as external, and out of
// scope here, so stdout and --output FILE always receive the same full
// text.
func Render(w io.Writer, tree []TreeRow, groups []GroupRow, summary SummaryLine) error {
	if _, err := fmt.Fprintln(w, renderTree(tree)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, renderGroups(groups)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, summary.String())
	return err
}

func renderTree(rows []TreeRow) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{
		"#", "start", "wall", "self%", "tree%", "rss", "r/w", "pf", "thr", "exit", "argv",
	})

	bulk := make([][]string, 0, len(rows))
	for _, r := range rows {
		indent := ""
		for i := 0; i < r.Depth; i++ {
			indent += "  "
		}
		bulk = append(bulk, []string{
			strconv.Itoa(r.DisplayIndex),
			r.StartWall.String(),
			r.WallDuration.String(),
			fmt.Sprintf("%.1f", r.SelfCPUPct),
			fmt.Sprintf("%.1f", r.TreeCPUPct),
			r.RSSHighWater.String(),
			r.BytesRead.String() + "+" + r.BytesWritten.String(),
			r.PageFaults.String(),
			strconv.FormatUint(r.MaxThreads, 10),
			strconv.Itoa(r.ExitStatus),
			indent + r.Argv,
		})
	}
	table.AppendBulk(bulk)
	table.Render()
	return buf.String()
}

func renderGroups(rows []GroupRow) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{
		"command", "self-cpu", "self%", "tree%", "avg-rss", "max-rss", "r+w", "execs",
	})

	bulk := make([][]string, 0, len(rows))
	for _, r := range rows {
		bulk = append(bulk, []string{
			r.Label,
			r.SelfOnCPU.String(),
			fmt.Sprintf("%.1f", r.SelfCPUPct),
			fmt.Sprintf("%.1f", r.TreeCPUPct),
			strconv.FormatUint(r.AvgRSS, 10),
			strconv.FormatUint(r.MaxRSS, 10),
			r.BytesReadWrite.String() + "k",
			strconv.Itoa(r.Execs),
		})
	}
	table.AppendBulk(bulk)
	table.Render()
	return buf.String()
}
