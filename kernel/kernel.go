// Package kernel is the thin abstraction over the platform's process
// tracing and counter surfaces: attach-and-follow-descendants, wait for a
// process-state event, continue a stopped process, detach. Everything
// platform-specific lives here and in ptrace_linux.go/ptrace_other.go so the
// rest of the engine can be driven deterministically by an in-memory fake.
package kernel

import (
	"context"
	"errors"
	"os"
)

// ErrUnsupportedPlatform is returned by SpawnAndAttach on platforms without
// a Tracer implementation.
var ErrUnsupportedPlatform = errors.New("kernel: process tracing is not supported on this platform")

// ErrAttachRefused means the kernel denied trace attachment to the root
// command: a permission, Yama ptrace_scope, or capability problem, fatal
// before any descendant work begins.
var ErrAttachRefused = errors.New("kernel: trace attachment refused")

// ErrSpawnFailed means the root command itself could not be exec'd.
var ErrSpawnFailed = errors.New("kernel: failed to spawn root command")

// ErrNoTracees is returned by NextEvent when no traced descendant remains;
// the caller should stop draining.
var ErrNoTracees = errors.New("kernel: no tracees remain")

// Kind discriminates the Event union.
type Kind int

const (
	// NewDescendant reports a fork/clone/vfork: Parent produced Child, which
	// is stopped pending Continue.
	NewDescendant Kind = iota
	// ProgramReplaced reports a successful execve in PID; argv is now
	// readable via ReadArgv.
	ProgramReplaced
	// Stopped reports a stop the engine does not act on (signal delivery,
	// group stop) and must transparently continue.
	Stopped
	// Exited reports process termination; Status encodes exit code (>=0) or
	// terminating signal (<0, as -signal).
	Exited
)

// Event is a closed sum type over the four KI event variants spec'd by the
// kernel interface. Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// NewDescendant
	Parent int
	Child  int

	// ProgramReplaced, Stopped, Exited all set PID
	PID int

	// Stopped
	StopReason string

	// Exited
	Status int
}

// Tracer is the kernel interface's Go shape: spawn the root under trace,
// drain its event stream, read argv, continue stopped tracees, forward
// signals, and detach.
type Tracer interface {
	// SpawnAndAttach creates the root command stopped under trace and
	// applies the option set that causes every descendant fork/clone/vfork
	// and every program replacement to stop the descendant and deliver an
	// event. Returns ErrAttachRefused or ErrSpawnFailed on failure.
	SpawnAndAttach(argv, env []string, cwd string) (rootPID int, err error)

	// NextEvent blocks until a traced descendant delivers an event, the
	// context is canceled, or no traced descendant remains (ErrNoTracees).
	NextEvent(ctx context.Context) (Event, error)

	// ReadArgv reads the current argument vector for pid from the
	// platform's process-info surface.
	ReadArgv(pid int) ([]string, error)

	// Continue releases a stopped process. Idempotent against races where
	// the process has already exited.
	Continue(pid int) error

	// Forward delivers sig to the root command, used for SIGINT/SIGTERM
	// relay.
	Forward(sig os.Signal) error

	// Detach releases pid from tracing without waiting for it to stop
	// first, used when the grace period expires with live descendants.
	Detach(pid int) error
}
