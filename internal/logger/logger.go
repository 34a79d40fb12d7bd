// Package logger builds the structured diagnostics logger used by flakerun.
// Operator-facing progress is printed by the output package; the logger
// carries everything else (session setup, retention decisions, tracing).
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// EnvLogLevel is consulted when no level is given on the command line.
const EnvLogLevel = "FLAKERUN_LOG_LEVEL"

// New creates a logger writing to w without timestamps. Level precedence:
// the level argument, then FLAKERUN_LOG_LEVEL, then info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.TrimSpace(level) == "" {
		level = os.Getenv(EnvLogLevel)
	}

	l := log.NewWithOptions(w, log.Options{
		Prefix:          "flakerun",
		ReportTimestamp: false,
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// ParseLevel converts a level name to a log.Level. Unknown names map to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}
