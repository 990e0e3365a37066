// Package logging provides the bracket-tagged logger used across socksfetch,
// matching the convention internal/proxygate used in the teacher repo
// (log.Printf("[ProxyGate] ...")).
package logging

import (
	"io"
	"log"
	"os"

	"github.com/google/uuid"
)

// Logger wraps the standard library logger with a fixed component tag.
type Logger struct {
	tag string
	l   *log.Logger
}

// New creates a Logger writing to w (os.Stderr if w is nil) tagged with
// "[tag]" on every line.
func New(tag string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{tag: tag, l: log.New(w, "", log.LstdFlags)}
}

// Default is the package-level logger used when callers don't supply one.
var Default = New("socksfetch", nil)

func (lg *Logger) Printf(format string, args ...any) {
	lg.l.Printf("[%s] "+format, append([]any{lg.tag}, args...)...)
}

// RequestID mints a correlation ID for a single Fetch call, following the
// teacher's habit (internal/domain) of tagging units of work with a uuid.
func RequestID() string {
	return uuid.NewString()
}
