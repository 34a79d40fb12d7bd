package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
	"github.com/behouba/criu-coordinator/internal/threshold"
)

// SessionReport is the machine-readable view of a finished or interrupted
// session, shared by the JSON and HTML reports.
type SessionReport struct {
	SessionID   string              `json:"session_id"`
	Command     []string            `json:"command"`
	Iterations  int                 `json:"iterations"`
	Retention   string              `json:"retention"`
	StartedAt   time.Time           `json:"started_at"`
	DurationMs  int64               `json:"duration_ms"`
	Interrupted bool                `json:"interrupted"`
	LogDir      string              `json:"log_dir"`
	Summary     metrics.Summary     `json:"summary"`
	Runs        []metrics.RunRecord `json:"runs"`
	Thresholds  *ThresholdSummary   `json:"thresholds,omitempty"`
}

// ThresholdSummary groups threshold outcomes for reports.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// NewSessionReport assembles the report for sess.
func NewSessionReport(sess session.Session, summary metrics.Summary, runs []metrics.RunRecord, elapsed time.Duration, interrupted bool, thresholds []threshold.Result) SessionReport {
	if runs == nil {
		runs = []metrics.RunRecord{}
	}
	return SessionReport{
		SessionID:   sess.ID,
		Command:     sess.Argv(),
		Iterations:  sess.Iterations,
		Retention:   string(sess.Retention),
		StartedAt:   sess.StartedAt,
		DurationMs:  elapsed.Milliseconds(),
		Interrupted: interrupted,
		LogDir:      sess.Dir,
		Summary:     summary,
		Runs:        runs,
		Thresholds:  summarizeThresholds(thresholds),
	}
}

func summarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	ts := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		ts.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			ts.Passed++
		} else {
			ts.Failed++
		}
	}
	return ts
}

// WriteJSONReport outputs the report as indented JSON.
func WriteJSONReport(w io.Writer, report SessionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteJSONFile writes the report to path, replacing any previous file.
func WriteJSONFile(path string, report SessionReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json report: %w", err)
	}
	if err := WriteJSONReport(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("write json report: %w", err)
	}
	return f.Close()
}
