package metrics

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/behouba/criu-coordinator/internal/session"
)

// Verdict classifies a session's reliability.
type Verdict string

const (
	VerdictNoRuns Verdict = "NO_RUNS"
	VerdictStable Verdict = "STABLE"
	VerdictFlaky  Verdict = "FLAKY"
	VerdictBroken Verdict = "BROKEN"
)

// RunRecord is the per-run row kept for reports.
type RunRecord struct {
	Index      int            `json:"index"`
	Status     session.Status `json:"status"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	LogPath    string         `json:"log_path,omitempty"`
}

// Collector accumulates run outcomes. It is owned by a single loop driver.
type Collector struct {
	hist      *hdrhistogram.Histogram
	passes    int
	failures  int
	durations []int64
	records   []RunRecord
	exitCodes map[int]int
}

// Summary is the aggregate view of a session.
type Summary struct {
	Total    int     `json:"total"`
	Passes   int     `json:"passes"`
	Failures int     `json:"failures"`
	PassRate float64 `json:"pass_rate"`
	FailRate float64 `json:"fail_rate"`
	MinMs    int64   `json:"min_ms"`
	AvgMs    int64   `json:"avg_ms"`
	MaxMs    int64   `json:"max_ms"`
	P50Ms    int64   `json:"p50_ms"`
	P90Ms    int64   `json:"p90_ms"`
	P99Ms    int64   `json:"p99_ms"`
	Verdict  Verdict `json:"verdict"`

	// ExitCodes counts failed runs per exit code.
	ExitCodes map[int]int `json:"exit_codes,omitempty"`
}

// NewCollector sizes the duration sequence for the expected run count.
func NewCollector(expectedRuns int) *Collector {
	if expectedRuns < 0 {
		expectedRuns = 0
	}
	// Track durations from 1ms up to 24h with 3 significant figures.
	h := hdrhistogram.New(1, int64(24*time.Hour/time.Millisecond), 3)
	return &Collector{
		hist:      h,
		durations: make([]int64, 0, expectedRuns),
		records:   make([]RunRecord, 0, expectedRuns),
		exitCodes: make(map[int]int),
	}
}

// Accumulate folds one completed run into the counters.
func (c *Collector) Accumulate(res session.RunResult) {
	ms := res.DurationMs()
	if ms < 0 {
		ms = 0
	}

	if res.Passed() {
		c.passes++
	} else {
		c.failures++
		c.exitCodes[res.ExitCode]++
	}
	c.durations = append(c.durations, ms)

	v := ms
	if v < c.hist.LowestTrackableValue() {
		v = c.hist.LowestTrackableValue()
	}
	if v > c.hist.HighestTrackableValue() {
		v = c.hist.HighestTrackableValue()
	}
	// v is clamped to the trackable range, so RecordValue cannot fail.
	_ = c.hist.RecordValue(v)

	c.records = append(c.records, RunRecord{
		Index:      res.Index,
		Status:     res.Status(),
		ExitCode:   res.ExitCode,
		DurationMs: ms,
		LogPath:    res.LogPath,
	})
}

// Completed returns the number of accumulated runs.
func (c *Collector) Completed() int {
	return c.passes + c.failures
}

// Records returns a copy of the per-run rows in run order.
func (c *Collector) Records() []RunRecord {
	out := make([]RunRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Summarize derives the aggregate statistics. It does not modify the collector.
func (c *Collector) Summarize() Summary {
	total := c.passes + c.failures
	s := Summary{
		Total:    total,
		Passes:   c.passes,
		Failures: c.failures,
		Verdict:  verdictFor(c.passes, c.failures),
	}
	if total == 0 {
		return s
	}

	s.PassRate, s.FailRate = rates(c.passes, total)

	minMs, maxMs := c.durations[0], c.durations[0]
	var sum int64
	for _, d := range c.durations {
		if d < minMs {
			minMs = d
		}
		if d > maxMs {
			maxMs = d
		}
		sum += d
	}
	s.MinMs = minMs
	s.MaxMs = maxMs
	s.AvgMs = int64(math.Round(float64(sum) / float64(len(c.durations))))

	if c.hist.TotalCount() > 0 {
		// Histogram buckets round up; keep percentiles inside the observed range.
		s.P50Ms = clamp(c.hist.ValueAtQuantile(50), minMs, maxMs)
		s.P90Ms = clamp(c.hist.ValueAtQuantile(90), minMs, maxMs)
		s.P99Ms = clamp(c.hist.ValueAtQuantile(99), minMs, maxMs)
	}

	if len(c.exitCodes) > 0 {
		s.ExitCodes = make(map[int]int, len(c.exitCodes))
		for code, n := range c.exitCodes {
			s.ExitCodes[code] = n
		}
	}
	return s
}

// rates returns pass and fail percentages rounded to two decimals. The fail
// rate is the complement of the rounded pass rate so the pair always sums to
// 100.00.
func rates(passes, total int) (float64, float64) {
	passBasisPoints := int64(math.Round(float64(passes) * 10000 / float64(total)))
	failBasisPoints := 10000 - passBasisPoints
	return float64(passBasisPoints) / 100, float64(failBasisPoints) / 100
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func verdictFor(passes, failures int) Verdict {
	switch {
	case passes+failures == 0:
		return VerdictNoRuns
	case failures == 0:
		return VerdictStable
	case passes == 0:
		return VerdictBroken
	default:
		return VerdictFlaky
	}
}
