//go:build unix

package runner_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/behouba/criu-coordinator/internal/runner"
	"github.com/behouba/criu-coordinator/internal/session"
)

func TestCommandRunnerClassifiesExitStatus(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantCode   int
		wantOutput []string
	}{
		{"pass", "echo hello; echo oops >&2", 0, []string{"hello", "oops"}},
		{"fail", "echo broken; exit 3", 3, []string{"broken", "exit status 3"}},
		{"killed by signal", "kill -9 $$", session.SignaledExitCode, []string{"signal: killed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			res, err := runner.NewCommandRunner(time.Second).Execute(context.Background(), runner.Invocation{
				Index:  7,
				Argv:   []string{"sh", "-c", tt.script},
				Output: &out,
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.Index != 7 {
				t.Errorf("Index = %d, want 7", res.Index)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			for _, want := range tt.wantOutput {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output %q missing %q", out.String(), want)
				}
			}
			if res.Passed() && strings.Contains(out.String(), "[flakerun]") {
				t.Errorf("passing run got an exit reason trailer: %q", out.String())
			}
		})
	}
}

func TestCommandRunnerMeasuresDuration(t *testing.T) {
	res, err := runner.NewCommandRunner(time.Second).Execute(context.Background(), runner.Invocation{
		Index: 1,
		Argv:  []string{"sh", "-c", "sleep 0.2"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Duration < 150*time.Millisecond || res.Duration > 5*time.Second {
		t.Errorf("Duration = %s, want about 200ms", res.Duration)
	}
}

func TestCommandRunnerPassesEnvironment(t *testing.T) {
	var out bytes.Buffer
	_, err := runner.NewCommandRunner(time.Second).Execute(context.Background(), runner.Invocation{
		Index:  1,
		Argv:   []string{"sh", "-c", `printf '%s' "$TRACEPARENT"`},
		Env:    []string{"TRACEPARENT=00-abc-def-01"},
		Output: &out,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.String() != "00-abc-def-01" {
		t.Errorf("child saw TRACEPARENT=%q", out.String())
	}
}

func TestCommandRunnerSpawnError(t *testing.T) {
	tests := [][]string{
		nil,
		{"/definitely/not/a/binary"},
	}
	for _, argv := range tests {
		_, err := runner.NewCommandRunner(time.Second).Execute(context.Background(), runner.Invocation{Index: 1, Argv: argv})
		if !errors.Is(err, runner.ErrSpawn) {
			t.Errorf("Execute(%v) error = %v, want ErrSpawn", argv, err)
		}
	}
}

func TestCommandRunnerCancelInterruptsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "got-sigint")
	// The nested shell records SIGINT; the group signal must reach it.
	script := `sh -c 'trap "touch ` + marker + `; exit 130" INT; while :; do sleep 0.05; done'; true`

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	_, err := runner.NewCommandRunner(2*time.Second).Execute(ctx, runner.Invocation{
		Index: 1,
		Argv:  []string{"sh", "-c", script},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("grandchild never received SIGINT")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCommandRunnerKillsAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := runner.NewCommandRunner(200*time.Millisecond).Execute(ctx, runner.Invocation{
		Index: 1,
		Argv:  []string{"sh", "-c", `trap "" INT; exec sleep 30`},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed after grace period; took %s", elapsed)
	}
}

func TestRunWithRealCommands(t *testing.T) {
	store, sess := newSession(t, 3, session.RetainFailures)
	sess.Command = []string{"sh", "-c", `test "$FLAKY_RUN" != 2`}
	sess.Delay = 0

	var index int
	exec := runner.ExecutorFunc(func(ctx context.Context, inv runner.Invocation) (session.RunResult, error) {
		index++
		inv.Env = append(inv.Env, "FLAKY_RUN="+strconv.Itoa(index))
		return runner.NewCommandRunner(time.Second).Execute(ctx, inv)
	})

	res, err := runner.New(runner.Options{Session: sess, Executor: exec, Store: store}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Summary.Passes != 2 || res.Summary.Failures != 1 {
		t.Errorf("summary = %+v, want 2 passes and 1 failure", res.Summary)
	}
	data, err := os.ReadFile(filepath.Join(sess.Dir, "run-002.log"))
	if err != nil {
		t.Fatalf("failed run log not retained: %v", err)
	}
	if !strings.Contains(string(data), "exit status 1") {
		t.Errorf("retained log lacks exit reason: %q", data)
	}
}
