//go:build !linux

package kernel

import (
	"context"
	"os"
)

// otherTracer is the stub Tracer for platforms without a ptrace-family
// implementation here; the macOS port is explicitly out of scope.
type otherTracer struct{}

// NewTracer returns a Tracer that fails every operation with
// ErrUnsupportedPlatform.
func NewTracer() Tracer {
	return otherTracer{}
}

func (otherTracer) SpawnAndAttach(argv, env []string, cwd string) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (otherTracer) NextEvent(ctx context.Context) (Event, error) {
	return Event{}, ErrUnsupportedPlatform
}

func (otherTracer) ReadArgv(pid int) ([]string, error) {
	return nil, ErrUnsupportedPlatform
}

func (otherTracer) Continue(pid int) error {
	return ErrUnsupportedPlatform
}

func (otherTracer) Forward(sig os.Signal) error {
	return ErrUnsupportedPlatform
}

func (otherTracer) Detach(pid int) error {
	return ErrUnsupportedPlatform
}
