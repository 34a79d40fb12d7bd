// Package threshold evaluates reliability assertions such as
// "run_failed:rate < 5" against a session summary.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/behouba/criu-coordinator/internal/metrics"
)

// Supported metric names.
const (
	MetricRunFailed   = "run_failed"   // rate (percent) or count of failed runs
	MetricRunPassed   = "run_passed"   // rate (percent) or count of passed runs
	MetricRunDuration = "run_duration" // min, avg, max, p50, p90, p99 in ms
	MetricRuns        = "runs"         // count of completed runs
)

var (
	validMetrics    = []string{MetricRunFailed, MetricRunPassed, MetricRunDuration, MetricRuns}
	validAggregates = []string{"p50", "p90", "p99", "avg", "min", "max", "rate", "count"}
	validOperators  = []string{"<", "<=", ">", ">=", "=="}

	thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
)

// Threshold represents a reliability assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "run_failed", "run_duration"
	Aggregate string  // e.g., "rate", "count", "p99", "max"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a session summary.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against the summary.
func (e *Evaluator) Evaluate(s metrics.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, s))
	}
	return results
}

// AllPassed reports whether every result passed. An empty list passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, s metrics.Summary) Result {
	actual, err := extractMetricValue(t, s)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("error: %v", err)}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string. Supported forms:
//   - "run_failed:rate < 5"         (percent of runs that failed)
//   - "run_failed:count == 0"
//   - "run_passed:rate >= 99"
//   - "run_duration:p99 < 60000"    (milliseconds; also min, avg, max, p50, p90)
//   - "runs:count >= 100"
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g., 'run_failed:rate < 5')", s)
	}
	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}
	if !slices.Contains(validMetrics, metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}
	if !slices.Contains(validAggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", aggregate, strings.Join(validAggregates, ", "))
	}
	if !slices.Contains(validOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	t := Threshold{Metric: metric, Aggregate: aggregate, Operator: operator, Value: value, Raw: s}
	// Reject combinations that could never be evaluated.
	if _, err := extractMetricValue(t, metrics.Summary{}); err != nil {
		return Threshold{}, err
	}
	return t, nil
}

// ParseMultiple parses multiple threshold strings, reporting every bad one.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var problems []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return result, nil
}

func extractMetricValue(t Threshold, s metrics.Summary) (float64, error) {
	switch t.Metric {
	case MetricRunDuration:
		return extractDurationMetric(t.Aggregate, s)
	case MetricRunFailed:
		return extractCountOrRate(t, s.Failures, s.FailRate)
	case MetricRunPassed:
		return extractCountOrRate(t, s.Passes, s.PassRate)
	case MetricRuns:
		if t.Aggregate != "count" {
			return 0, fmt.Errorf("unsupported aggregate %q for runs (use 'count')", t.Aggregate)
		}
		return float64(s.Total), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractDurationMetric(aggregate string, s metrics.Summary) (float64, error) {
	switch aggregate {
	case "p50":
		return float64(s.P50Ms), nil
	case "p90":
		return float64(s.P90Ms), nil
	case "p99":
		return float64(s.P99Ms), nil
	case "avg":
		return float64(s.AvgMs), nil
	case "min":
		return float64(s.MinMs), nil
	case "max":
		return float64(s.MaxMs), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for run_duration", aggregate)
	}
}

func extractCountOrRate(t Threshold, count int, rate float64) (float64, error) {
	switch t.Aggregate {
	case "count":
		return float64(count), nil
	case "rate":
		return rate, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", t.Aggregate, t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
