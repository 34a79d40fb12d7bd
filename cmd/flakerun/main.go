package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/behouba/criu-coordinator/internal/config"
	"github.com/behouba/criu-coordinator/internal/exitcodes"
	"github.com/behouba/criu-coordinator/internal/interrupt"
	"github.com/behouba/criu-coordinator/internal/logger"
	"github.com/behouba/criu-coordinator/internal/logstore"
	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/output"
	"github.com/behouba/criu-coordinator/internal/runner"
	"github.com/behouba/criu-coordinator/internal/session"
	"github.com/behouba/criu-coordinator/internal/threshold"
	"github.com/behouba/criu-coordinator/internal/tracing"
)

const (
	summaryFileName = "summary.json"
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one session and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return exitcodes.Success
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.HarnessError
	}

	lg := logger.New(stderr, cfg.LogLevel)

	progressOut := stdout
	if cfg.JSONOutput {
		progressOut = stderr
	}
	reporter := output.NewReporter(progressOut, output.DetectStyled(progressOut, string(cfg.Color)))

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitcodes.HarnessError
	}

	handler := interrupt.New(interrupt.WithNotice(reporter.Notice), interrupt.WithLogger(lg))
	ctx, stop := handler.Install(context.Background())
	defer stop()

	s := &sessionRun{
		cfg:        cfg,
		logger:     lg,
		reporter:   reporter,
		thresholds: thresholds,
		stdout:     stdout,
	}
	code, err := s.execute(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	if handler.Interrupted() {
		return handler.ExitCode()
	}
	return code
}

// sessionRun carries everything one session needs between setup and the
// final reports.
type sessionRun struct {
	cfg        *config.Config
	logger     *log.Logger
	reporter   *output.Reporter
	thresholds []threshold.Threshold
	stdout     io.Writer
}

func (s *sessionRun) execute(ctx context.Context) (int, error) {
	provider, err := tracing.Init(ctx, s.cfg.Tracing)
	if err != nil {
		return exitcodes.HarnessError, fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("flush traces", "err", err)
		}
	}()
	if provider.Enabled() {
		s.logger.Debug("tracing enabled", "endpoint", s.cfg.Tracing.Endpoint, "protocol", s.cfg.Tracing.Protocol)
	}

	store := logstore.New(s.cfg.OutputDir, logstore.WithLogger(s.logger))
	sess, err := store.BeginSession(s.cfg.Session())
	if err != nil {
		return exitcodes.HarnessError, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			s.logger.Warn("release output directory", "err", err)
		}
	}()
	s.logger.Info("session started", "id", sess.ID, "runs", sess.Iterations, "command", sess.CommandLine(), "retention", sess.Retention)

	tracer := provider.Tracer()
	ctx, span := tracing.StartSessionSpan(tracing.ExtractEnv(ctx), tracer, sess)

	cmdRunner := runner.NewCommandRunner(s.cfg.KillGrace)
	var exec runner.Executor = cmdRunner
	if provider.Enabled() {
		exec = runner.WithTracing(exec, tracer, provider.ShouldPropagate())
	}
	exec = runner.WithLogging(exec, s.logger)

	result, runErr := runner.New(runner.Options{
		Session:  sess,
		Executor: exec,
		Store:    store,
		Reporter: s.reporter,
		Logger:   s.logger,
	}).Run(ctx)
	tracing.EndSpan(span, runErr, tracing.SummaryAttributes(result.Summary)...)

	if result.Interrupted {
		s.reporter.Notice(fmt.Sprintf("Stopped after %d of %d runs", result.Summary.Total, sess.Iterations))
		if result.AbandonedLog != "" {
			s.reporter.Notice("Partial log of the interrupted run: " + result.AbandonedLog)
		}
	}

	thresholdResults, err := s.report(sess, result)
	if runErr != nil {
		return exitcodes.HarnessError, runErr
	}
	if err != nil {
		return exitcodes.HarnessError, err
	}

	if s.cfg.FailOnFailures && result.Summary.Failures > 0 {
		return exitcodes.RunFailures, nil
	}
	if !threshold.AllPassed(thresholdResults) {
		return exitcodes.RunFailures, nil
	}
	return exitcodes.Success, nil
}

// report prints the summary and writes every configured artifact. It runs
// for completed, interrupted and aborted sessions alike.
func (s *sessionRun) report(sess session.Session, result runner.Result) ([]threshold.Result, error) {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	keep(s.reporter.ReportSummary(result.Summary, sess.Dir))
	keep(s.reporter.ReportFailures(result.Records))

	thresholdResults := threshold.NewEvaluator(s.thresholds).Evaluate(result.Summary)
	keep(s.reporter.ReportThresholds(thresholdResults))

	report := output.NewSessionReport(sess, result.Summary, result.Records, result.Duration, result.Interrupted, thresholdResults)
	keep(output.WriteJSONFile(filepath.Join(sess.Dir, summaryFileName), report))
	if s.cfg.JSONOutput {
		keep(output.WriteJSONReport(s.stdout, report))
	}
	if s.cfg.HTMLOutput != "" {
		if err := output.WriteHTMLFile(s.cfg.HTMLOutput, report); err != nil {
			keep(err)
		} else {
			s.logger.Info("html report written", "path", s.cfg.HTMLOutput)
		}
	}
	if s.cfg.MetricsFile != "" {
		keep(metrics.WriteTextfile(s.cfg.MetricsFile, sess.ID, result.Summary))
	}
	return thresholdResults, errors.Join(errs...)
}
