package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
)

// Result captures the outcome of the loop.
type Result struct {
	Summary     metrics.Summary
	Records     []metrics.RunRecord
	Duration    time.Duration
	Interrupted bool
	// AbandonedLog is the partial log of the run cut short by cancellation.
	AbandonedLog string
}

// Runner executes the session's command sequentially.
type Runner struct {
	opt       Options
	collector *metrics.Collector
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:       opt,
		collector: metrics.NewCollector(opt.Session.Iterations),
	}
}

// Run executes up to Session.Iterations runs. Cancelling ctx stops the loop
// without error; Result.Interrupted is set and only completed runs are
// counted. A returned error is harness-fatal; the Result still describes the
// runs completed before it.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	total := r.opt.Session.Iterations
	var abandoned string

	for index := 1; index <= total; index++ {
		if ctx.Err() != nil {
			return r.result(start, true, abandoned), nil
		}

		res, err := r.runOnce(ctx, index)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				abandoned = r.abandon(index)
				return r.result(start, true, abandoned), nil
			}
			r.discard(index)
			return r.result(start, false, ""), err
		}

		r.collector.Accumulate(res)
		if r.opt.Reporter != nil {
			if err := r.opt.Reporter.ReportRun(res, total); err != nil {
				return r.result(start, false, ""), fmt.Errorf("report run %d: %w", index, err)
			}
		}

		if index < total {
			if err := r.opt.Sleep(ctx, r.opt.Session.Delay); err != nil {
				return r.result(start, true, ""), nil
			}
		}
	}
	return r.result(start, false, ""), nil
}

func (r *Runner) runOnce(ctx context.Context, index int) (session.RunResult, error) {
	out, err := r.opt.Store.OpenRunLog(index)
	if err != nil {
		return session.RunResult{Index: index}, err
	}

	res, execErr := r.opt.Executor.Execute(ctx, Invocation{
		Index:  index,
		Argv:   r.opt.Session.Argv(),
		Env:    r.opt.Env,
		Output: out,
	})
	closeErr := out.Close()
	if execErr != nil {
		return res, execErr
	}
	if closeErr != nil {
		return res, fmt.Errorf("close run %d log: %w", index, closeErr)
	}

	res.Index = index
	path, err := r.opt.Store.Finalize(res)
	if err != nil {
		return res, err
	}
	res.LogPath = path
	r.opt.Logger.Debug("run finished", "run", index, "exit", res.ExitCode, "ms", res.DurationMs())
	return res, nil
}

func (r *Runner) abandon(index int) string {
	path, err := r.opt.Store.Abandon(index)
	if err != nil {
		r.opt.Logger.Warn("could not keep interrupted run log", "run", index, "err", err)
		return ""
	}
	r.opt.Logger.Info("kept partial log of interrupted run", "run", index, "path", path)
	return path
}

// discard drops the artifact of a run that hit a harness error. Runs whose
// log was never opened or already finalized have nothing to drop.
func (r *Runner) discard(index int) {
	if err := r.opt.Store.Discard(index); err != nil {
		r.opt.Logger.Debug("no log to discard", "run", index, "err", err)
	}
}

func (r *Runner) result(start time.Time, interrupted bool, abandoned string) Result {
	return Result{
		Summary:      r.collector.Summarize(),
		Records:      r.collector.Records(),
		Duration:     time.Since(start),
		Interrupted:  interrupted,
		AbandonedLog: abandoned,
	}
}
