// Package logging sets up the kernel's *log.Logger. Each hook process writes
// to a shared, append-only file under .omc/logs/kernel.log; nothing here
// uses a package-level logger or init() sink — callers thread the returned
// logger explicitly, mirroring the teacher's setupLogger/logger.Printf idiom.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// New opens (creating parent dirs) logFilePath for append and returns a
// logger writing to it. Debug gates extra verbosity via OMC_DEBUG (spec
// §6.4); it does not change where lines go, only whether Debugf emits.
type Logger struct {
	*log.Logger
	debug bool
}

// New returns a Logger. When logFilePath cannot be opened, it falls back to
// stderr rather than failing the hook process (spec §7: never block host
// progress on the kernel's own failure).
func New(logFilePath string) *Logger {
	var w io.Writer = os.Stderr
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err == nil {
			if f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				w = f
			} else {
				fmt.Fprintf(os.Stderr, "[omc] warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		}
	}
	debug := os.Getenv("OMC_DEBUG") != ""
	return &Logger{
		Logger: log.New(w, "[omc] ", log.LstdFlags),
		debug:  debug,
	}
}

// Debugf logs only when OMC_DEBUG is truthy.
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.Printf("DEBUG: "+format, args...)
	}
}
