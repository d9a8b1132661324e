package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/arctir/zb/counters"
	"github.com/arctir/zb/proctree"
	"github.com/davecgh/go-spew/spew"
)

// buildTable wires up a small fixed tree by hand, bypassing the engine, so
// report functions can be tested against a known-good proctree.Table.
func buildTable(t *testing.T) *proctree.Table {
	t.Helper()
	table := proctree.NewTable()

	root, err := table.Insert(1, 0, 0)
	if err != nil {
		t.Fatalf("insert root: %s", err)
	}
	root.Argv = []string{"/bin/sh", "-c", "echo a | wc -c"}

	echo, _ := table.Insert(2, 1, 5*time.Millisecond)
	table.AttachToParent(echo)
	echo.Argv = []string{"echo", "a"}
	echo.CountersInitial = counters.Snapshot{OnCPU: counters.Known(0)}
	echo.CountersFinal = counters.Snapshot{OnCPU: counters.Known(1_000_000)}
	if err := table.Seal(2, 8*time.Millisecond, 0, echo.CountersFinal); err != nil {
		t.Fatalf("seal echo: %s", err)
	}

	wc, _ := table.Insert(3, 1, 6*time.Millisecond)
	table.AttachToParent(wc)
	wc.Argv = []string{"wc", "-c"}
	wc.CountersInitial = counters.Snapshot{OnCPU: counters.Known(0)}
	wc.CountersFinal = counters.Snapshot{OnCPU: counters.Known(2_000_000)}
	if err := table.Seal(3, 9*time.Millisecond, 0, wc.CountersFinal); err != nil {
		t.Fatalf("seal wc: %s", err)
	}

	root.CountersInitial = counters.Snapshot{OnCPU: counters.Known(0)}
	root.CountersFinal = counters.Snapshot{OnCPU: counters.Known(500_000)}
	if err := table.Seal(1, 10*time.Millisecond, 0, root.CountersFinal); err != nil {
		t.Fatalf("seal root: %s", err)
	}

	return table
}

func TestTreeWalksPreOrderAndSumsTreeCPU(t *testing.T) {
	table := buildTable(t)
	rows := Tree(table)

	if len(rows) != 3 {
		t.Logf("expected 3 rows, got %s", spew.Sdump(rows))
		t.FailNow()
	}
	if rows[0].DisplayIndex != 1 || rows[0].Depth != 0 {
		t.Logf("expected root first at depth 0, got %s", spew.Sdump(rows[0]))
		t.Fail()
	}
	// root's self on-CPU is 500us over 10ms of wall; tree on-CPU adds the
	// two children's 1ms+2ms, so tree% must exceed self%.
	if rows[0].TreeCPUPct <= rows[0].SelfCPUPct {
		t.Logf("expected tree CPU%% to exceed self CPU%% with busy children, got %+v", rows[0])
		t.Fail()
	}
}

func TestGroupByBucketsShellChildrenSeparately(t *testing.T) {
	table := buildTable(t)
	rows := GroupBy(table)

	labels := map[string]GroupRow{}
	for _, r := range rows {
		labels[r.Label] = r
	}

	if _, ok := labels["echo"]; !ok {
		t.Logf("expected an echo group, got %s", spew.Sdump(rows))
		t.Fail()
	}
	if _, ok := labels["wc"]; !ok {
		t.Logf("expected a wc group, got %s", spew.Sdump(rows))
		t.Fail()
	}
	if _, ok := labels["/bin/sh"]; !ok {
		t.Logf("expected the shell invocation itself to bucket under its own fingerprint, got %s", spew.Sdump(rows))
		t.Fail()
	}
}

func TestGroupBySortedAscendingBySelfCPU(t *testing.T) {
	table := buildTable(t)
	rows := GroupBy(table)

	for i := 1; i < len(rows); i++ {
		if !rows[i-1].SelfOnCPU.Known || !rows[i].SelfOnCPU.Known {
			continue
		}
		if rows[i-1].SelfOnCPU.N > rows[i].SelfOnCPU.N {
			t.Logf("expected ascending self on-CPU order, got %s", spew.Sdump(rows))
			t.Fail()
		}
	}
}

func TestSummaryCountsAllSealedRecords(t *testing.T) {
	table := buildTable(t)
	s := Summary(table, Tree(table))

	if s.Commands != 3 {
		t.Logf("expected 3 commands in summary, got %d", s.Commands)
		t.Fail()
	}
	if s.ExitStatus != 0 {
		t.Logf("expected exit status 0, got %d", s.ExitStatus)
		t.Fail()
	}
}

func TestFingerprintDisambiguatesShellsAndInterpreters(t *testing.T) {
	cases := []struct {
		argv []string
		want string
	}{
		{[]string{"/bin/sh", "gcc", "-O2"}, "/bin/sh gcc"},
		{[]string{"/bin/sh", "-c", "echo hi"}, "/bin/sh"},
		{[]string{"python3", "build.py", "--flag"}, "python3 build.py"},
		{[]string{"gcc", "-O2", "main.c"}, "gcc"},
	}
	for _, c := range cases {
		got := fingerprint(c.argv)
		if got != c.want {
			t.Logf("fingerprint(%v) = %q, want %q", c.argv, got, c.want)
			t.Fail()
		}
	}
}

func TestRenderProducesAllThreeSections(t *testing.T) {
	table := buildTable(t)
	var buf bytes.Buffer
	tree := Tree(table)
	if err := Render(&buf, tree, GroupBy(table), Summary(table, tree)); err != nil {
		t.Logf("unexpected Render error: %s", err)
		t.FailNow()
	}
	out := buf.String()
	if out == "" {
		t.Logf("expected non-empty rendered output")
		t.Fail()
	}
	upper := strings.ToUpper(out)
	if !strings.Contains(upper, "ARGV") {
		t.Logf("expected the tree section in rendered output, got %s", out)
		t.Fail()
	}
	if !strings.Contains(upper, "EXECS") {
		t.Logf("expected the group-by section in rendered output, got %s", out)
		t.Fail()
	}
	if !strings.Contains(out, Summary(table, tree).String()) {
		t.Logf("expected the summary line in rendered output, got %s", out)
		t.Fail()
	}
}
