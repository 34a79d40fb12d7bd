package output_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/output"
	"github.com/behouba/criu-coordinator/internal/session"
	"github.com/behouba/criu-coordinator/internal/threshold"
)

func sampleReport(t *testing.T, logDir string) output.SessionReport {
	t.Helper()
	sess := session.New(3, []string{"go", "test", "./..."}, session.RetainFailures, time.Second)
	sess.ID = "01JTESTSESSION"
	sess.Dir = logDir
	sess.StartedAt = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	collector := metrics.NewCollector(3)
	collector.Accumulate(session.RunResult{Index: 1, ExitCode: 0, Duration: 900 * time.Millisecond})
	collector.Accumulate(session.RunResult{Index: 2, ExitCode: 1, Duration: 1234 * time.Millisecond, LogPath: filepath.Join(logDir, "run-002.log")})
	collector.Accumulate(session.RunResult{Index: 3, ExitCode: 0, Duration: 866 * time.Millisecond})

	parsed, err := threshold.ParseMultiple([]string{"run_failed:count == 0"})
	if err != nil {
		t.Fatal(err)
	}
	summary := collector.Summarize()
	results := threshold.NewEvaluator(parsed).Evaluate(summary)
	return output.NewSessionReport(sess, summary, collector.Records(), 5*time.Second, false, results)
}

func TestWriteJSONReport(t *testing.T) {
	report := sampleReport(t, "/tmp/logs")

	var buf bytes.Buffer
	if err := output.WriteJSONReport(&buf, report); err != nil {
		t.Fatalf("WriteJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"session_id", "command", "summary", "runs", "thresholds", "log_dir"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON report missing %q", key)
		}
	}
	summary := decoded["summary"].(map[string]interface{})
	if summary["pass_rate"].(float64) != 66.67 || summary["fail_rate"].(float64) != 33.33 {
		t.Errorf("rates in JSON = %v/%v", summary["pass_rate"], summary["fail_rate"])
	}
	if runs := decoded["runs"].([]interface{}); len(runs) != 3 {
		t.Errorf("runs = %d, want 3", len(runs))
	}
	thresholds := decoded["thresholds"].(map[string]interface{})
	if thresholds["failed"].(float64) != 1 {
		t.Errorf("thresholds = %v", thresholds)
	}
}

func TestWriteJSONReportEmptyRunsIsArray(t *testing.T) {
	sess := session.New(0, []string{"true"}, session.RetainFailures, 0)
	report := output.NewSessionReport(sess, metrics.Summary{Verdict: metrics.VerdictNoRuns}, nil, 0, false, nil)

	var buf bytes.Buffer
	if err := output.WriteJSONReport(&buf, report); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"runs": []`) {
		t.Errorf("runs not rendered as empty array: %s", buf.String())
	}
	if strings.Contains(buf.String(), `"thresholds"`) {
		t.Errorf("thresholds rendered without any configured: %s", buf.String())
	}
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	if err := output.WriteJSONFile(path, sampleReport(t, "/tmp/logs")); err != nil {
		t.Fatalf("WriteJSONFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Errorf("summary.json is not valid JSON")
	}
}
