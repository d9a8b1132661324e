//go:build linux

package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ptraceOptions stops the tracer at every descendant fork/clone/vfork and
// every program replacement, and kills the whole tree if the tracer dies.
const ptraceOptions = unix.PTRACE_O_EXITKILL |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC

// linuxTracer implements Tracer with PTRACE_SEIZE and a wait-loop that
// switches on the ptrace-event cause, following the idiom shown by the
// retrieval pack's own Linux ptrace implementations (seize over the
// attach/SIGSTOP dance, PTRACE_O_TRACE* bits, PtraceGetEventMsg for the new
// child's pid).
type linuxTracer struct {
	mu sync.Mutex

	rootPID int

	// known tracks every pid we've delivered a NewDescendant for. A stop
	// for a pid not yet in known is itself synthesized into a NewDescendant
	// event, the case where the child's own stop races the parent's
	// CLONE/FORK/VFORK notification.
	known map[int]bool

	// parentOf maps a not-yet-announced child pid to the parent that
	// spawned it, populated when we observe PTRACE_EVENT_{CLONE,FORK,VFORK}
	// and consume PtraceGetEventMsg.
	parentOf map[int]int
}

// NewTracer returns the Linux ptrace-backed Tracer.
func NewTracer() Tracer {
	return &linuxTracer{
		known:    map[int]bool{},
		parentOf: map[int]int{},
	}
}

func (t *linuxTracer) SpawnAndAttach(argv, env []string, cwd string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("%w: empty argv", ErrSpawnFailed)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSpawnFailed, err)
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Args = argv
	cmd.Env = env
	cmd.Dir = cwd
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// Ptrace: true stops the child with SIGTRAP right after execve so
		// we can seize it before it runs any instructions.
		Ptrace: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSpawnFailed, err)
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("%w: initial wait failed: %s", ErrSpawnFailed, err)
	}
	if !ws.Stopped() {
		return 0, fmt.Errorf("%w: child did not stop as expected", ErrSpawnFailed)
	}

	if err := ptraceSeize(pid, ptraceOptions); err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return 0, fmt.Errorf("%w: %s", ErrAttachRefused, err)
		}
		return 0, fmt.Errorf("%w: ptrace(PTRACE_SEIZE) failed: %s", ErrAttachRefused, err)
	}

	if err := unix.PtraceCont(pid, 0); err != nil {
		return 0, fmt.Errorf("%w: failed releasing root: %s", ErrSpawnFailed, err)
	}

	t.rootPID = pid
	t.known[pid] = true
	return pid, nil
}

// ptraceSeize wraps the raw PTRACE_SEIZE request. Unlike PTRACE_SETOPTIONS,
// PTRACE_SEIZE takes the option bits directly as its data argument, which
// golang.org/x/sys/unix's PtraceSeize helper does not expose, so this goes
// directly through the raw syscall.
func ptraceSeize(pid int, options int) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, unix.PTRACE_SEIZE, uintptr(pid), 0, uintptr(options), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// errKeepWaiting signals dispatch handled a wait status transparently
// (re-armed the tracee) and produced no Event the engine needs to see;
// NextEvent loops and waits again.
var errKeepWaiting = errors.New("kernel: no event, keep waiting")

func (t *linuxTracer) NextEvent(ctx context.Context) (Event, error) {
	for {
		if len(t.known) == 0 {
			return Event{}, ErrNoTracees
		}

		type waitResult struct {
			pid int
			ws  unix.WaitStatus
			err error
		}
		resultCh := make(chan waitResult, 1)
		go func() {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, 0, nil)
			resultCh <- waitResult{pid, ws, err}
		}()

		var res waitResult
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case res = <-resultCh:
		}

		if res.err != nil {
			if errors.Is(res.err, unix.ECHILD) {
				return Event{}, ErrNoTracees
			}
			return Event{}, res.err
		}

		ev, err := t.dispatch(res.pid, res.ws)
		if errors.Is(err, errKeepWaiting) {
			continue
		}
		return ev, err
	}
}

// dispatch converts one raw wait status into the Event the engine expects,
// synthesizing NewDescendant for a pid whose own stop arrives before its
// parent's clone/fork/vfork notification. Returns errKeepWaiting when the
// status was handled transparently (re-armed) and the loop should wait
// again.
func (t *linuxTracer) dispatch(pid int, ws unix.WaitStatus) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ws.Exited() || ws.Signaled() {
		delete(t.known, pid)
		status := exitStatus(ws)
		return Event{Kind: Exited, PID: pid, Status: status}, nil
	}

	if !ws.Stopped() {
		return Event{Kind: Stopped, PID: pid, StopReason: "unexpected wait status"}, nil
	}

	if !t.known[pid] {
		parent := t.parentOf[pid]
		t.known[pid] = true
		return Event{Kind: NewDescendant, Parent: parent, Child: pid}, nil
	}

	switch ws.TrapCause() {
	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		childPID, err := unix.PtraceGetEventMsg(pid)
		if err != nil {
			_ = unix.PtraceCont(pid, 0)
			return Event{}, errKeepWaiting
		}
		t.parentOf[int(childPID)] = pid
		_ = unix.PtraceCont(pid, 0)
		return Event{}, errKeepWaiting
	case unix.PTRACE_EVENT_EXEC:
		return Event{Kind: ProgramReplaced, PID: pid}, nil
	default:
		sig := ws.StopSignal()
		if sig == unix.SIGTRAP {
			_ = unix.PtraceCont(pid, 0)
			return Event{}, errKeepWaiting
		}
		return Event{Kind: Stopped, PID: pid, StopReason: sig.String()}, nil
	}
}

func exitStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return -int(ws.Signal())
	}
	return ws.ExitStatus()
}

func (t *linuxTracer) ReadArgv(pid int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join("/proc", itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) == 1 && parts[0] == "" {
		return nil, nil
	}
	return parts, nil
}

func (t *linuxTracer) Continue(pid int) error {
	err := unix.PtraceCont(pid, 0)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (t *linuxTracer) Forward(sig os.Signal) error {
	if t.rootPID == 0 {
		return fmt.Errorf("kernel: no root to signal")
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("kernel: unsupported signal type %T", sig)
	}
	return unix.Kill(t.rootPID, s)
}

func (t *linuxTracer) Detach(pid int) error {
	err := unix.PtraceDetach(pid)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
