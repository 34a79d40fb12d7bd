// Package session defines the data shared by every stage of a flakerun
// session: the immutable session description and the per-run result snapshot.
package session

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RetentionPolicy decides which run logs survive a session.
type RetentionPolicy string

const (
	// RetainFailures keeps the logs of failed runs and discards passing ones.
	RetainFailures RetentionPolicy = "failures-only"
	// RetainAll keeps every run log.
	RetainAll RetentionPolicy = "all"
)

// ParseRetentionPolicy accepts the canonical names plus a few spellings
// that show up in config files.
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "failures-only", "failures_only", "failures":
		return RetainFailures, nil
	case "all":
		return RetainAll, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q (expected failures-only or all)", s)
	}
}

// Session describes one harness invocation. It is built once before the loop
// starts and never mutated afterwards.
type Session struct {
	ID         string
	Iterations int
	Command    []string
	Dir        string
	Retention  RetentionPolicy
	Delay      time.Duration
	StartedAt  time.Time
}

// New copies argv so later changes by the caller cannot leak into the session.
func New(iterations int, argv []string, retention RetentionPolicy, delay time.Duration) Session {
	return Session{
		Iterations: iterations,
		Command:    slices.Clone(argv),
		Retention:  retention,
		Delay:      delay,
	}
}

// Argv returns a copy of the command vector.
func (s Session) Argv() []string {
	return slices.Clone(s.Command)
}

// CommandLine renders the command for display only.
func (s Session) CommandLine() string {
	return strings.Join(s.Command, " ")
}

// SignaledExitCode is the exit code recorded for a process that was
// terminated by a signal instead of exiting.
const SignaledExitCode = -1

// Status is the PASS/FAIL classification of a run.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// RunResult is the immutable outcome of one completed run.
type RunResult struct {
	Index    int
	ExitCode int
	Duration time.Duration
	// LogPath is empty unless the run's log was retained.
	LogPath string
}

// Passed reports whether the command exited with status 0.
func (r RunResult) Passed() bool {
	return r.ExitCode == 0
}

// Status classifies the run.
func (r RunResult) Status() Status {
	if r.Passed() {
		return StatusPass
	}
	return StatusFail
}

// Signaled reports whether the process was killed by a signal.
func (r RunResult) Signaled() bool {
	return r.ExitCode == SignaledExitCode
}

// DurationMs is the run duration at millisecond resolution.
func (r RunResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
