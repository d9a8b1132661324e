package engine

import (
	"context"
	"os"

	"github.com/arctir/zb/kernel"
)

// fakeTracer is an in-memory kernel.Tracer double that replays a scripted
// event sequence, letting the state machine in engine.go be exercised
// deterministically without spawning real children or needing ptrace
// permissions.
type fakeTracer struct {
	rootPID int
	events  []kernel.Event
	pos     int
	argv    map[int][]string

	// blockOnExhaustion makes NextEvent block on ctx.Done() once the
	// scripted events run out, instead of reporting kernel.ErrNoTracees.
	// Used to exercise the grace-period cancellation path, where tracees
	// are still live when the run context is canceled.
	blockOnExhaustion bool

	continued []int
	forwarded []os.Signal
	detached  []int
}

func newFakeTracer(rootPID int, events []kernel.Event) *fakeTracer {
	return &fakeTracer{
		rootPID: rootPID,
		events:  events,
		argv:    map[int][]string{},
	}
}

func (f *fakeTracer) setArgv(pid int, argv []string) {
	f.argv[pid] = argv
}

func (f *fakeTracer) SpawnAndAttach(argv, env []string, cwd string) (int, error) {
	return f.rootPID, nil
}

func (f *fakeTracer) NextEvent(ctx context.Context) (kernel.Event, error) {
	select {
	case <-ctx.Done():
		return kernel.Event{}, ctx.Err()
	default:
	}
	if f.pos >= len(f.events) {
		if f.blockOnExhaustion {
			<-ctx.Done()
			return kernel.Event{}, ctx.Err()
		}
		return kernel.Event{}, kernel.ErrNoTracees
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

func (f *fakeTracer) ReadArgv(pid int) ([]string, error) {
	return f.argv[pid], nil
}

func (f *fakeTracer) Continue(pid int) error {
	f.continued = append(f.continued, pid)
	return nil
}

func (f *fakeTracer) Forward(sig os.Signal) error {
	f.forwarded = append(f.forwarded, sig)
	return nil
}

func (f *fakeTracer) Detach(pid int) error {
	f.detached = append(f.detached, pid)
	return nil
}
