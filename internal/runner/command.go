package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/behouba/criu-coordinator/internal/session"
)

// ErrSpawn is returned when the command could not be started at all.
var ErrSpawn = errors.New("cannot start command")

// Invocation describes one execution of the command.
type Invocation struct {
	Index  int
	Argv   []string
	Env    []string  // appended to the harness environment
	Output io.Writer // receives stdout and stderr
}

// CommandRunner executes invocations as child processes.
type CommandRunner struct {
	// KillGrace is how long a cancelled child may take to exit after SIGINT
	// before it is killed. Zero kills it immediately.
	KillGrace time.Duration
	// Dir is the working directory; empty means the harness's own.
	Dir string
}

// NewCommandRunner returns a CommandRunner with the given kill grace.
func NewCommandRunner(killGrace time.Duration) *CommandRunner {
	return &CommandRunner{KillGrace: killGrace}
}

// Execute runs the command to completion and classifies it. A nonzero exit or
// a death by signal is a failed run, reported through the result with the
// reason appended to the output stream. Errors mean the harness could not do
// its job: the command could not be started, output could not be written,
// or ctx was cancelled while the command ran.
func (r *CommandRunner) Execute(ctx context.Context, inv Invocation) (session.RunResult, error) {
	res := session.RunResult{Index: inv.Index}
	if len(inv.Argv) == 0 || inv.Argv[0] == "" {
		return res, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	out := inv.Output
	if out == nil {
		out = io.Discard
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	configureProcess(cmd, r.KillGrace)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("%w %q: %v", ErrSpawn, inv.Argv[0], err)
	}
	waitErr := cmd.Wait()
	res.Duration = time.Since(start)

	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The command exited but a grandchild kept the output open.
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return res, fmt.Errorf("run %d: %w", inv.Index, waitErr)
	}
	if res.ExitCode == -1 {
		res.ExitCode = session.SignaledExitCode
	}

	if !res.Passed() {
		if _, err := fmt.Fprintf(out, "\n[flakerun] %s\n", cmd.ProcessState); err != nil {
			return res, fmt.Errorf("run %d: write exit reason: %w", inv.Index, err)
		}
	}
	return res, nil
}
