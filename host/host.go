// The host package is responsible for gathering details about a given host,
// including the platform permission knobs that govern whether zb's tracer
// can attach to processes at all.
package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultProcRoot     = "/proc"
	PtraceScopeFilePath = "sys/kernel/yama/ptrace_scope"
)

// PtraceScope is Linux's Yama LSM ptrace_scope knob. It is the platform's
// permission model for process tracing: a tracer that would otherwise be
// permitted by classic ptrace(2) uid rules can still be refused attachment
// here.
type PtraceScope int

const (
	// PtraceScopeClassic allows a process to PTRACE_ATTACH any other process
	// running under the same uid, the traditional ptrace(2) rule.
	PtraceScopeClassic PtraceScope = 0
	// PtraceScopeRestricted permits attaching only to direct children.
	PtraceScopeRestricted PtraceScope = 1
	// PtraceScopeAdminOnly permits attaching only for processes with
	// CAP_SYS_PTRACE.
	PtraceScopeAdminOnly PtraceScope = 2
	// PtraceScopeNoAttach disables ptrace attachment entirely, even for root.
	PtraceScopeNoAttach PtraceScope = 3
	// PtraceScopeUnknown is returned when the knob cannot be read, e.g. a
	// kernel built without Yama.
	PtraceScopeUnknown PtraceScope = -1
)

// String renders the scope the way an operator would recognize it in
// documentation for /proc/sys/kernel/yama/ptrace_scope.
func (p PtraceScope) String() string {
	switch p {
	case PtraceScopeClassic:
		return "classic ptrace permissions (0)"
	case PtraceScopeRestricted:
		return "restricted ptrace: attach to children only (1)"
	case PtraceScopeAdminOnly:
		return "admin-only attach: requires CAP_SYS_PTRACE (2)"
	case PtraceScopeNoAttach:
		return "no attach: ptrace disabled (3)"
	default:
		return "unknown (yama not present or unreadable)"
	}
}

// HostReader defines the actions available for retrieving information about a host.
type HostReader interface {
	// PtraceScope retrieves the Yama ptrace_scope setting in effect.
	PtraceScope() (PtraceScope, error)
}

// LinuxReader is the Linux-specific implementation of [HostReader].
type LinuxReader struct {
	procDir string
}

type LinuxReaderConfig struct {
	ProcDirPath string
}

func NewLinuxReader(conf LinuxReaderConfig) LinuxReader {
	if conf.ProcDirPath == "" {
		conf.ProcDirPath = DefaultProcRoot
	}
	return LinuxReader{
		procDir: conf.ProcDirPath,
	}
}

// PtraceScope reads /proc/sys/kernel/yama/ptrace_scope. If the file does not
// exist (Yama isn't built into the running kernel), PtraceScopeUnknown is
// returned without error: an engine AttachRefused diagnostic should treat
// unknown the same as classic, since nothing is restricting it.
func (h *LinuxReader) PtraceScope() (PtraceScope, error) {
	scopeFilePath := filepath.Join(h.procDir, PtraceScopeFilePath)
	data, err := os.ReadFile(scopeFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return PtraceScopeUnknown, nil
		}
		return PtraceScopeUnknown, fmt.Errorf("failed reading ptrace_scope at %s. Error was: %s", scopeFilePath, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return PtraceScopeUnknown, fmt.Errorf("failed parsing ptrace_scope contents %q. Error was: %s", data, err)
	}
	return PtraceScope(v), nil
}
