package metrics_test

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
)

func run(index, exitCode int, d time.Duration) session.RunResult {
	return session.RunResult{Index: index, ExitCode: exitCode, Duration: d}
}

func TestCollectorDurationStats(t *testing.T) {
	c := metrics.NewCollector(5)

	// Record deterministic durations.
	c.Accumulate(run(1, 0, 10*time.Millisecond))
	c.Accumulate(run(2, 0, 20*time.Millisecond))
	c.Accumulate(run(3, 1, 30*time.Millisecond))
	c.Accumulate(run(4, 0, 40*time.Millisecond))
	c.Accumulate(run(5, 0, 50*time.Millisecond))

	s := c.Summarize()

	if s.Total != 5 {
		t.Errorf("expected total 5, got %d", s.Total)
	}
	if s.Passes != 4 {
		t.Errorf("expected passes 4, got %d", s.Passes)
	}
	if s.Failures != 1 {
		t.Errorf("expected failures 1, got %d", s.Failures)
	}
	if s.MinMs != 10 {
		t.Errorf("expected min 10ms, got %d", s.MinMs)
	}
	if s.MaxMs != 50 {
		t.Errorf("expected max 50ms, got %d", s.MaxMs)
	}
	if s.AvgMs != 30 {
		t.Errorf("expected avg 30ms, got %d", s.AvgMs)
	}
	if s.PassRate != 80 || s.FailRate != 20 {
		t.Errorf("expected rates 80/20, got %.2f/%.2f", s.PassRate, s.FailRate)
	}
	if s.Verdict != metrics.VerdictFlaky {
		t.Errorf("expected verdict FLAKY, got %s", s.Verdict)
	}
	if !reflect.DeepEqual(s.ExitCodes, map[int]int{1: 1}) {
		t.Errorf("unexpected exit code breakdown %v", s.ExitCodes)
	}
}

func TestSummaryScenarioOneFailureInThree(t *testing.T) {
	c := metrics.NewCollector(3)
	for i, code := range []int{0, 1, 0} {
		c.Accumulate(run(i+1, code, time.Duration(100+i)*time.Millisecond))
	}

	s := c.Summarize()
	if s.Total != 3 || s.Passes != 2 || s.Failures != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.PassRate != 66.67 {
		t.Errorf("expected pass rate 66.67, got %v", s.PassRate)
	}
	if s.FailRate != 33.33 {
		t.Errorf("expected fail rate 33.33, got %v", s.FailRate)
	}
}

func TestSummaryZeroRuns(t *testing.T) {
	s := metrics.NewCollector(0).Summarize()

	want := metrics.Summary{Verdict: metrics.VerdictNoRuns}
	if !reflect.DeepEqual(s, want) {
		t.Fatalf("expected zero summary, got %+v", s)
	}
}

func TestRatesAlwaysSumToHundred(t *testing.T) {
	for total := 1; total <= 64; total++ {
		for passes := 0; passes <= total; passes++ {
			c := metrics.NewCollector(total)
			for i := 1; i <= total; i++ {
				code := 1
				if i <= passes {
					code = 0
				}
				c.Accumulate(run(i, code, time.Millisecond))
			}
			s := c.Summarize()
			if s.Passes+s.Failures != s.Total || s.Total != c.Completed() {
				t.Fatalf("count invariant broken: %+v", s)
			}
			if math.Abs(s.PassRate+s.FailRate-100) > 1e-9 {
				t.Fatalf("passes=%d total=%d: rates %.2f + %.2f != 100", passes, total, s.PassRate, s.FailRate)
			}
		}
	}
}

func TestMinAvgMaxOrdering(t *testing.T) {
	c := metrics.NewCollector(0)
	durations := []time.Duration{
		1500 * time.Millisecond, 3 * time.Millisecond, 999 * time.Millisecond,
		0, 42 * time.Second, 7 * time.Millisecond,
	}
	for i, d := range durations {
		c.Accumulate(run(i+1, i%2, d))
		s := c.Summarize()
		if !(s.MinMs <= s.AvgMs && s.AvgMs <= s.MaxMs) {
			t.Fatalf("after %d runs: min=%d avg=%d max=%d", i+1, s.MinMs, s.AvgMs, s.MaxMs)
		}
		if !(s.MinMs <= s.P50Ms && s.P99Ms <= s.MaxMs) {
			t.Fatalf("after %d runs: percentiles outside range %+v", i+1, s)
		}
	}
}

func TestAvgRoundsToNearestMillisecond(t *testing.T) {
	c := metrics.NewCollector(2)
	c.Accumulate(run(1, 0, 1*time.Millisecond))
	c.Accumulate(run(2, 0, 2*time.Millisecond))

	if got := c.Summarize().AvgMs; got != 2 {
		t.Fatalf("expected avg 1.5ms to round to 2, got %d", got)
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	c := metrics.NewCollector(3)
	c.Accumulate(run(1, 0, 12*time.Millisecond))
	c.Accumulate(run(2, 2, 250*time.Millisecond))
	c.Accumulate(run(3, 0, 31*time.Millisecond))

	first := c.Summarize()
	second := c.Summarize()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("summarize not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestVerdicts(t *testing.T) {
	tests := []struct {
		name  string
		codes []int
		want  metrics.Verdict
	}{
		{"stable", []int{0, 0, 0}, metrics.VerdictStable},
		{"flaky", []int{0, 1, 0}, metrics.VerdictFlaky},
		{"broken", []int{2, 2}, metrics.VerdictBroken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := metrics.NewCollector(len(tt.codes))
			for i, code := range tt.codes {
				c.Accumulate(run(i+1, code, time.Millisecond))
			}
			if got := c.Summarize().Verdict; got != tt.want {
				t.Errorf("verdict = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecordsKeepRunOrder(t *testing.T) {
	c := metrics.NewCollector(2)
	c.Accumulate(session.RunResult{Index: 1, ExitCode: 0, Duration: time.Millisecond})
	c.Accumulate(session.RunResult{Index: 2, ExitCode: 3, Duration: 2 * time.Millisecond, LogPath: "/tmp/run-002.log"})

	records := c.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Index != 1 || records[0].Status != session.StatusPass {
		t.Errorf("unexpected first record %+v", records[0])
	}
	if records[1].Status != session.StatusFail || records[1].LogPath == "" {
		t.Errorf("unexpected second record %+v", records[1])
	}

	records[0].Index = 99
	if c.Records()[0].Index != 1 {
		t.Error("Records() must return a copy")
	}
}

func TestSummaryJSONSchema(t *testing.T) {
	c := metrics.NewCollector(1)
	c.Accumulate(run(1, 0, 15*time.Millisecond))

	data, err := json.Marshal(c.Summarize())
	if err != nil {
		t.Fatalf("failed to marshal summary: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	requiredFields := []string{"total", "passes", "failures", "pass_rate", "fail_rate", "min_ms", "avg_ms", "max_ms", "p50_ms", "p90_ms", "p99_ms", "verdict"}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	c := metrics.NewCollector(2)
	c.Accumulate(run(1, 0, 10*time.Millisecond))
	c.Accumulate(run(2, 101, 20*time.Millisecond))

	path := filepath.Join(t.TempDir(), "flakerun.prom")
	if err := metrics.WriteTextfile(path, "sess-1", c.Summarize()); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`flakerun_runs{result="fail",session="sess-1"} 1`,
		`flakerun_pass_rate_percent{session="sess-1"} 50`,
		`flakerun_run_duration_milliseconds{session="sess-1",stat="max"} 20`,
		`flakerun_failures_by_exit_code{exit_code="101",session="sess-1"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q\n%s", want, out)
		}
	}
}
