package engine

import (
	"io"
	"log"
	"os"

	"github.com/adrg/xdg"
)

// newDiagLogger opens the diagnostic log used to record non-fatal
// degraded-counter events, located via xdg's state directory convention so
// it lands next to other well-behaved CLI tools' state rather than
// cluttering the working directory. A failure to open it never fails a
// run: a discarding logger is used instead.
func newDiagLogger() *log.Logger {
	path, err := xdg.StateFile("zb/trace.log")
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(f, "zb: ", log.LstdFlags)
}
