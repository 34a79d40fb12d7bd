package runner

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/behouba/criu-coordinator/internal/logger"
	"github.com/behouba/criu-coordinator/internal/session"
)

// Executor abstracts running the command once.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (session.RunResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inv Invocation) (session.RunResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) (session.RunResult, error) {
	return f(ctx, inv)
}

// LogStore owns the per-run log artifacts.
type LogStore interface {
	OpenRunLog(index int) (io.WriteCloser, error)
	Finalize(res session.RunResult) (string, error)
	Abandon(index int) (string, error)
	Discard(index int) error
}

// RunReporter receives each completed run, in order.
type RunReporter interface {
	ReportRun(res session.RunResult, total int) error
}

// Options configure the Runner.
type Options struct {
	Session  session.Session // iterations, argv and delay (required)
	Executor Executor        // runs the command (required)
	Store    LogStore        // per-run artifacts (required)
	Reporter RunReporter     // optional per-run feedback
	Logger   *log.Logger     // optional diagnostics
	Env      []string        // extra KEY=value entries for every run

	// Sleep waits between runs; it must return early with ctx.Err() when ctx
	// is cancelled. Tests inject a fake.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Session.Iterations < 0 {
		o.Session.Iterations = 0
	}
	if o.Session.Delay < 0 {
		o.Session.Delay = 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
