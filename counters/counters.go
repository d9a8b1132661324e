// Package counters samples per-process kernel accounting data from procfs
// and computes the deltas that the report package rolls up into the tree
// and group-by views.
package counters

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrProcessGone is returned by Sample when the process's /proc/<pid>/stat
// file is already gone, the one counter failure the engine treats as a hard
// per-process error rather than a degraded field.
var ErrProcessGone = errors.New("counters: process no longer present")

// DefaultProcRoot is where Sample looks for a pid's procfs directory unless
// overridden, matching the host package's own default.
const DefaultProcRoot = "/proc"

// Value wraps a counter reading with an explicit Known flag so "unsupported
// on this kernel" is a real state instead of a zero that looks like a
// genuine reading of zero.
type Value struct {
	N     uint64
	Known bool
}

// Unknown is the zero-information reading.
var Unknown = Value{}

// Known constructs a known reading.
func Known(n uint64) Value {
	return Value{N: n, Known: true}
}

// String renders "?" for an unknown value, matching the CLI's sentinel
// rendering of unreadable counters.
func (v Value) String() string {
	if !v.Known {
		return "?"
	}
	return strconv.FormatUint(v.N, 10)
}

// Snapshot is the tuple of counters read at a single instant for a process.
type Snapshot struct {
	OnCPU          Value // utime+stime, clock ticks converted to nanoseconds
	RunnableWait   Value // time spent runnable but not on a CPU, nanoseconds
	RSSHighWater   Value // bytes
	BytesRead      Value
	BytesWritten   Value
	MinorFaults    Value
	MajorFaults    Value
	ThreadCount    Value
}

// Sampler reads counter snapshots from a procfs root. The zero value reads
// from DefaultProcRoot.
type Sampler struct {
	ProcRoot string
}

// NewSampler builds a Sampler rooted at procRoot, falling back to
// DefaultProcRoot when empty.
func NewSampler(procRoot string) Sampler {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return Sampler{ProcRoot: procRoot}
}

// Sample reads all supported counters for pid. Missing optional files
// degrade only the fields they would have populated; a missing stat file
// means the process has already been reaped and is reported as
// ErrProcessGone.
func (s Sampler) Sample(pid int) (Snapshot, error) {
	dir := filepath.Join(s.ProcRoot, strconv.Itoa(pid))

	stat, err := readStat(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrProcessGone, err)
	}

	snap := Snapshot{
		OnCPU:       stat.onCPU,
		MinorFaults: stat.minorFaults,
		MajorFaults: stat.majorFaults,
	}

	if v, err := readRunnableWait(dir); err == nil {
		snap.RunnableWait = v
	}
	if hwm, threads, err := readStatus(dir); err == nil {
		snap.RSSHighWater = hwm
		snap.ThreadCount = threads
	}
	if r, w, err := readIO(dir); err == nil {
		snap.BytesRead = r
		snap.BytesWritten = w
	}

	return snap, nil
}

// clockTicksToNanos converts a count of sysconf(_SC_CLK_TCK) ticks (almost
// universally 100Hz on Linux) into nanoseconds.
func clockTicksToNanos(ticks uint64) uint64 {
	const hz = 100
	const nanosPerSecond = 1_000_000_000
	return ticks * (nanosPerSecond / hz)
}

type statFields struct {
	onCPU       Value
	minorFaults Value
	majorFaults Value
}

// readStat parses the whitespace-delimited fields of /proc/<pid>/stat.
// Field 2 (comm) can itself contain spaces and is parenthesized, so we
// locate it by the last ")" rather than splitting naively.
func readStat(dir string) (statFields, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return statFields{}, err
	}
	line := string(raw)
	close := strings.LastIndex(line, ")")
	if close == -1 || close+2 > len(line) {
		return statFields{}, fmt.Errorf("counters: malformed stat line")
	}
	fields := strings.Fields(line[close+2:])
	// fields now starts at state (field 3), i.e. fields[0] is field 3 in
	// the proc_pid_stat(5) numbering.
	const (
		minflt = 10 - 3
		majflt = 12 - 3
		utime  = 14 - 3
		stime  = 15 - 3
	)
	if len(fields) <= stime {
		return statFields{}, fmt.Errorf("counters: stat has %d fields, want > %d", len(fields), stime)
	}
	minor, err1 := strconv.ParseUint(fields[minflt], 10, 64)
	major, err2 := strconv.ParseUint(fields[majflt], 10, 64)
	ut, err3 := strconv.ParseUint(fields[utime], 10, 64)
	st, err4 := strconv.ParseUint(fields[stime], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return statFields{}, fmt.Errorf("counters: failed parsing stat fields")
	}
	return statFields{
		onCPU:       Known(clockTicksToNanos(ut + st)),
		minorFaults: Known(minor),
		majorFaults: Known(major),
	}, nil
}

// readRunnableWait reads field 2 of /proc/<pid>/schedstat, "time spent
// waiting on a runqueue", in nanoseconds. Not every kernel build exposes
// schedstat; a missing file just degrades this one field.
func readRunnableWait(dir string) (Value, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "schedstat"))
	if err != nil {
		return Unknown, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 2 {
		return Unknown, fmt.Errorf("counters: schedstat has %d fields", len(fields))
	}
	n, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Unknown, err
	}
	return Known(n), nil
}

// readStatus extracts VmHWM (in bytes) and Threads from
// /proc/<pid>/status.
func readStatus(dir string) (hwm Value, threads Value, err error) {
	f, err := os.Open(filepath.Join(dir, "status"))
	if err != nil {
		return Unknown, Unknown, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "VmHWM:"):
			if kb, ok := parseKBField(line); ok {
				hwm = Known(kb * 1024)
			}
		case strings.HasPrefix(line, "Threads:"):
			fields := strings.Fields(line)
			if len(fields) == 2 {
				if n, perr := strconv.ParseUint(fields[1], 10, 64); perr == nil {
					threads = Known(n)
				}
			}
		}
	}
	return hwm, threads, scanner.Err()
}

// parseKBField parses lines of the form "VmHWM:     1234 kB".
func parseKBField(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// readIO extracts read_bytes/write_bytes from /proc/<pid>/io. This file is
// restricted by some hardened kernels; a permission error just degrades
// these two fields, matching CounterUnavailable's non-fatal policy.
func readIO(dir string) (readBytes Value, writeBytes Value, err error) {
	f, err := os.Open(filepath.Join(dir, "io"))
	if err != nil {
		return Unknown, Unknown, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		n, perr := strconv.ParseUint(val, 10, 64)
		if perr != nil {
			continue
		}
		switch key {
		case "read_bytes":
			readBytes = Known(n)
		case "write_bytes":
			writeBytes = Known(n)
		}
	}
	return readBytes, writeBytes, scanner.Err()
}
