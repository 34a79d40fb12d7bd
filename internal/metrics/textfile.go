package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flakerun"

// WriteTextfile writes the summary to path in the Prometheus text format.
// The file is written atomically, as the textfile collector expects.
func WriteTextfile(path, sessionID string, s Summary) error {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"session": sessionID}

	runs := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs",
		Help:      "Completed runs by result",
	}, []string{"session", "result"})
	runs.With(prometheus.Labels{"session": sessionID, "result": "pass"}).Set(float64(s.Passes))
	runs.With(prometheus.Labels{"session": sessionID, "result": "fail"}).Set(float64(s.Failures))

	passRate := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pass_rate_percent",
		Help:      "Percentage of completed runs that passed",
	}, []string{"session"})
	passRate.With(labels).Set(s.PassRate)

	duration := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_milliseconds",
		Help:      "Run duration statistics",
	}, []string{"session", "stat"})
	for stat, v := range map[string]int64{
		"min": s.MinMs,
		"avg": s.AvgMs,
		"max": s.MaxMs,
		"p50": s.P50Ms,
		"p90": s.P90Ms,
		"p99": s.P99Ms,
	} {
		duration.With(prometheus.Labels{"session": sessionID, "stat": stat}).Set(float64(v))
	}

	failures := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "failures_by_exit_code",
		Help:      "Failed runs per exit code",
	}, []string{"session", "exit_code"})
	for code, n := range s.ExitCodes {
		failures.With(prometheus.Labels{"session": sessionID, "exit_code": fmt.Sprint(code)}).Set(float64(n))
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
