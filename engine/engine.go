// Package engine is the event loop: it drives a kernel.Tracer, maintains a
// proctree.Table, invokes the counter sampler at the two significant edges
// of a process's life, and terminates when the traced subtree is empty.
// Nothing here is platform-specific; the whole package compiles and runs
// against an in-memory kernel.Tracer fake.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arctir/zb/counters"
	"github.com/arctir/zb/kernel"
	"github.com/arctir/zb/proctree"
)

// DefaultGracePeriod is how long the engine keeps draining events after a
// forwarded SIGINT/SIGTERM before detaching from survivors.
const DefaultGracePeriod = 30 * time.Second

// Options configures a Run. The zero value plus NewOptions' defaults is
// usable directly; callers pass functional Option values the same way the
// teacher's plib.NewLinuxInspector(opts ...LinuxInspectorConfig) pattern
// takes configuration — last one wins for any field that's set.
type Options struct {
	GracePeriod time.Duration
	Sampler     counters.Sampler
}

// Option mutates an in-progress Options during construction.
type Option func(*Options)

// WithGracePeriod overrides the default grace period used when the engine
// is asked to wind down via signal.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) { o.GracePeriod = d }
}

// WithSampler overrides the counter sampler, mainly so tests can point it
// at a scratch procfs root.
func WithSampler(s counters.Sampler) Option {
	return func(o *Options) { o.Sampler = s }
}

// NewOptions builds an Options with spec defaults, then applies opts in
// order.
func NewOptions(opts ...Option) Options {
	o := Options{
		GracePeriod: DefaultGracePeriod,
		Sampler:     counters.NewSampler(""),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Result is everything the report package needs once a run completes.
type Result struct {
	Table      *proctree.Table
	ExitStatus int
	Incomplete bool
	Detached   int
}

// state is a process's lifecycle stage: Tracked-PreExec, Tracked-PostExec.
// A third, implicit stage (Sealed) is represented by the record leaving
// the table's live set rather than by a value here.
type state int

const (
	trackedPreExec state = iota
	trackedPostExec
)

// Engine drives the trace loop over a kernel.Tracer.
type Engine struct {
	tracer kernel.Tracer
	opts   Options
	table  *proctree.Table
	states map[int]state
	clock  func() time.Time
	epoch  time.Time
	diag   *log.Logger
}

// New builds an Engine around tracer with the given options.
func New(tracer kernel.Tracer, opts Options) *Engine {
	return &Engine{
		tracer: tracer,
		opts:   opts,
		table:  proctree.NewTable(),
		states: map[int]state{},
		clock:  time.Now,
		diag:   newDiagLogger(),
	}
}

// Run spawns argv under trace and drives the event loop to completion,
// forwarding SIGINT/SIGTERM to the root and honoring the configured grace
// period on shutdown.
func (e *Engine) Run(ctx context.Context, argv, env []string, cwd string) (Result, error) {
	rootPID, err := e.tracer.SpawnAndAttach(argv, env, cwd)
	if err != nil {
		return Result{}, err
	}

	e.epoch = e.clock()

	root, err := e.table.Insert(rootPID, 0, 0)
	if err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}
	e.states[rootPID] = trackedPreExec
	if snap, serr := e.opts.Sampler.Sample(rootPID); serr == nil {
		root.CountersInitial = snap
		e.bumpThreadHighWater(root, snap)
	} else {
		e.diag.Printf("counters unavailable for root pid %d at spawn: %s", rootPID, serr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sig := <-sigCh
		_ = e.tracer.Forward(sig)
		cancel()
	}()

	result, err := e.drain(runCtx, rootPID)
	if err != nil {
		return result, err
	}
	return result, nil
}

// drain runs the main event dispatch loop until the subtree is empty, or
// until the grace period expires after a signal-driven cancellation.
func (e *Engine) drain(ctx context.Context, rootPID int) (Result, error) {
	for {
		ev, err := e.tracer.NextEvent(ctx)
		if errors.Is(err, kernel.ErrNoTracees) {
			break
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return e.drainWithGrace(rootPID)
		}
		if err != nil {
			return Result{}, fmt.Errorf("engine: event stream failed: %w", err)
		}

		if err := e.handle(ev); err != nil {
			return Result{}, err
		}

		if e.table.LiveCount() == 0 {
			break
		}
	}

	return e.finish(rootPID, false, 0), nil
}

// drainWithGrace is entered once the run context is canceled (a forwarded
// signal). It keeps draining events, bounded by GracePeriod, then detaches
// from any survivors and reports the run as incomplete.
func (e *Engine) drainWithGrace(rootPID int) (Result, error) {
	deadline := e.clock().Add(e.opts.GracePeriod)
	for e.clock().Before(deadline) {
		graceCtx, cancel := context.WithDeadline(context.Background(), deadline)
		ev, err := e.tracer.NextEvent(graceCtx)
		cancel()
		if errors.Is(err, kernel.ErrNoTracees) {
			return e.finish(rootPID, false, 0), nil
		}
		if err != nil {
			break
		}
		if err := e.handle(ev); err != nil {
			return Result{}, err
		}
		if e.table.LiveCount() == 0 {
			return e.finish(rootPID, false, 0), nil
		}
	}

	detached := e.detachSurvivors()
	return e.finish(rootPID, true, detached), nil
}

// detachSurvivors releases every process still live in the table once the
// grace period has expired; they continue running, orphaned from the
// tracer.
func (e *Engine) detachSurvivors() int {
	n := 0
	for pid := range e.states {
		if r, ok := e.table.Get(pid); ok && !r.Sealed() {
			_ = e.tracer.Detach(pid)
			n++
		}
	}
	return n
}

// handle dispatches a single kernel.Event to the handler for its kind.
func (e *Engine) handle(ev kernel.Event) error {
	switch ev.Kind {
	case kernel.NewDescendant:
		return e.handleNewDescendant(ev.Parent, ev.Child)
	case kernel.ProgramReplaced:
		return e.handleProgramReplaced(ev.PID)
	case kernel.Stopped:
		return e.tracer.Continue(ev.PID)
	case kernel.Exited:
		return e.handleExited(ev.PID, ev.Status)
	default:
		return fmt.Errorf("engine: unknown event kind %d", ev.Kind)
	}
}

func (e *Engine) handleNewDescendant(parent, child int) error {
	now := e.clock().Sub(e.epoch)
	record, err := e.table.Insert(child, parent, now)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.table.AttachToParent(record)
	e.states[child] = trackedPreExec

	snap, serr := e.opts.Sampler.Sample(child)
	if serr != nil {
		// CounterUnavailable: non-fatal, continue with unknown counters.
		e.diag.Printf("counters unavailable for pid %d at fork: %s", child, serr)
		snap = counters.Snapshot{}
	}
	record.CountersInitial = snap
	e.bumpThreadHighWater(record, snap)

	return e.tracer.Continue(child)
}

func (e *Engine) handleProgramReplaced(pid int) error {
	record, ok := e.table.Get(pid)
	if !ok {
		// Event for a pid we haven't seen a NewDescendant for yet. Treat
		// this pid as a synthetic subtree root rather than dropping the
		// event.
		now := e.clock().Sub(e.epoch)
		var err error
		record, err = e.table.Insert(pid, 0, now)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		e.table.AttachToParent(record)
	}

	argv, err := e.tracer.ReadArgv(pid)
	if err == nil {
		record.Argv = argv
	}

	// Attribution on exec: counters_initial resets to the snapshot taken
	// immediately after the latest ProgramReplaced, so a shell's setup cost
	// is never charged to the program it execs.
	snap, serr := e.opts.Sampler.Sample(pid)
	if serr == nil {
		record.CountersInitial = snap
		e.bumpThreadHighWater(record, snap)
	} else {
		e.diag.Printf("counters unavailable for pid %d at exec: %s", pid, serr)
	}

	e.states[pid] = trackedPostExec
	return e.tracer.Continue(pid)
}

func (e *Engine) handleExited(pid, status int) error {
	record, ok := e.table.Get(pid)
	if !ok {
		return nil
	}

	// Counters must be sampled before acknowledging the exit: they vanish
	// once the kernel reaps the process.
	snap, serr := e.opts.Sampler.Sample(pid)
	if serr != nil {
		e.diag.Printf("counters unavailable for pid %d at exit: %s", pid, serr)
		snap = counters.Snapshot{} // CounterUnavailable: unknown, never a fabricated zero delta
	} else {
		e.bumpThreadHighWater(record, snap)
	}

	now := e.clock().Sub(e.epoch)
	return e.table.Seal(pid, now, status, snap)
}

// bumpThreadHighWater tracks the high-water count of live kernel threads
// for record across every sample taken during its life.
func (e *Engine) bumpThreadHighWater(record *proctree.Record, snap counters.Snapshot) {
	if snap.ThreadCount.Known && snap.ThreadCount.N > record.MaxConcurrentThreads {
		record.MaxConcurrentThreads = snap.ThreadCount.N
	}
}

func (e *Engine) finish(rootPID int, incomplete bool, detached int) Result {
	rootRecord, _ := e.table.Get(rootPID)
	status := 0
	if rootRecord != nil {
		status = rootRecord.ExitStatus
	}
	return Result{
		Table:      e.table,
		ExitStatus: status,
		Incomplete: incomplete,
		Detached:   detached,
	}
}
