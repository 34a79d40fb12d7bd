package runner

import (
	"context"
	"slices"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/behouba/criu-coordinator/internal/session"
	"github.com/behouba/criu-coordinator/internal/tracing"
)

// loggingExecutor wraps an Executor with debug logging.
type loggingExecutor struct {
	inner  Executor
	logger *log.Logger
}

// WithLogging logs every invocation at debug level. Harness errors are
// returned to the caller, which owns the diagnostic.
func WithLogging(exec Executor, logger *log.Logger) Executor {
	if logger == nil {
		return exec
	}
	return &loggingExecutor{inner: exec, logger: logger}
}

func (l *loggingExecutor) Execute(ctx context.Context, inv Invocation) (session.RunResult, error) {
	l.logger.Debug("starting run", "run", inv.Index, "argv", inv.Argv)
	res, err := l.inner.Execute(ctx, inv)
	if err != nil && ctx.Err() == nil {
		l.logger.Debug("run could not complete", "run", inv.Index, "err", err)
	}
	return res, err
}

// tracingExecutor wraps each run in a span.
type tracingExecutor struct {
	inner     Executor
	tracer    trace.Tracer
	propagate bool
}

// WithTracing opens a span per run. With propagate set, the run's trace
// context is exported to the command as TRACEPARENT/TRACESTATE so test
// frameworks can attach their own spans.
func WithTracing(exec Executor, tracer trace.Tracer, propagate bool) Executor {
	if tracer == nil {
		return exec
	}
	return &tracingExecutor{inner: exec, tracer: tracer, propagate: propagate}
}

func (t *tracingExecutor) Execute(ctx context.Context, inv Invocation) (session.RunResult, error) {
	spanCtx, span := tracing.StartRunSpan(ctx, t.tracer, inv.Index, inv.Argv)
	if t.propagate {
		inv.Env = append(slices.Clone(inv.Env), tracing.InjectEnv(spanCtx)...)
	}
	res, err := t.inner.Execute(spanCtx, inv)
	tracing.EndRunSpan(span, res, err)
	return res, err
}
