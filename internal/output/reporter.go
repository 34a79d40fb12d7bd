package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
	"github.com/behouba/criu-coordinator/internal/threshold"
)

// Reporter prints operator-facing progress and summaries. Writes are
// serialized because notices arrive from the signal goroutine.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	styled   bool
	st       styles
	readFile func(string) ([]byte, error)
}

// NewReporter creates a reporter writing to w. styled comes from
// DetectStyled and is fixed for the reporter's lifetime.
func NewReporter(w io.Writer, styled bool) *Reporter {
	if w == nil {
		w = io.Discard
	}
	return &Reporter{
		w:        w,
		styled:   styled,
		st:       newStyles(w, styled),
		readFile: os.ReadFile,
	}
}

// ReportRun prints the one-line outcome of a run, e.g.
//
//	[ 2/5] FAIL run 2 (1234 ms)
//
// followed, for a failed run, by the full content of its retained log.
func (r *Reporter) ReportRun(res session.RunResult, total int) error {
	width := len(strconv.Itoa(total))
	if width < 2 {
		width = 2
	}

	status := r.st.pass.Render(string(session.StatusPass))
	if !res.Passed() {
		status = r.st.fail.Render(string(session.StatusFail))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%*d/%d] %s run %d (%d ms)\n", width, res.Index, total, status, res.Index, res.DurationMs())

	if !res.Passed() && res.LogPath != "" {
		name := filepath.Base(res.LogPath)
		b.WriteString(r.st.dim.Render("----- begin "+name+" -----") + "\n")
		data, err := r.readFile(res.LogPath)
		if err != nil {
			fmt.Fprintf(&b, "(log unavailable: %v)\n", err)
		} else {
			b.Write(data)
			if len(data) > 0 && data[len(data)-1] != '\n' {
				b.WriteByte('\n')
			}
		}
		b.WriteString(r.st.dim.Render("----- end "+name+" -----") + "\n")
	}
	return r.write(b.String())
}

// ReportSummary prints the aggregate block:
//
//	Total=3, Passed=2 (66.67%), Failed=1 (33.33%)
//	Duration: min=900 avg=1000 max=1234 ms
func (r *Reporter) ReportSummary(s metrics.Summary, logDir string) error {
	var b strings.Builder
	b.WriteString("\n" + r.st.heading.Render("--- Flakiness Summary ---") + "\n")
	fmt.Fprintf(&b, "Total=%d, Passed=%d (%.2f%%), Failed=%d (%.2f%%)\n",
		s.Total, s.Passes, s.PassRate, s.Failures, s.FailRate)
	fmt.Fprintf(&b, "Duration: min=%d avg=%d max=%d ms", s.MinMs, s.AvgMs, s.MaxMs)
	if s.Total > 0 {
		fmt.Fprintf(&b, " (p50=%d p90=%d p99=%d)", s.P50Ms, s.P90Ms, s.P99Ms)
	}
	b.WriteString("\n")

	if buckets := metrics.FlattenExitCodes(s.ExitCodes); len(buckets) > 0 {
		parts := make([]string, 0, len(buckets))
		for _, bucket := range buckets {
			parts = append(parts, fmt.Sprintf("%s x%d", metrics.DescribeExitCode(bucket.ExitCode), bucket.Count))
		}
		fmt.Fprintf(&b, "Failures by exit code: %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "Verdict: %s\n", r.verdict(s.Verdict))
	if logDir != "" {
		fmt.Fprintf(&b, "Logs: %s\n", logDir)
	}
	return r.write(b.String())
}

func (r *Reporter) verdict(v metrics.Verdict) string {
	switch v {
	case metrics.VerdictStable:
		return r.st.pass.Render(string(v))
	case metrics.VerdictFlaky, metrics.VerdictBroken:
		return r.st.fail.Render(string(v))
	default:
		return r.st.notice.Render(string(v))
	}
}

// ReportFailures renders the failed runs as a table. Nothing is printed when
// every run passed.
func (r *Reporter) ReportFailures(records []metrics.RunRecord) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Run", "Exit", "Reason", "Duration (ms)", "Log"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Run", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Duration (ms)", Align: text.AlignRight},
		{Name: "Log", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	failed := 0
	for _, rec := range records {
		if rec.Status != session.StatusFail {
			continue
		}
		failed++
		t.AppendRow(table.Row{rec.Index, rec.ExitCode, metrics.DescribeExitCode(rec.ExitCode), rec.DurationMs, rec.LogPath})
	}
	if failed == 0 {
		return nil
	}

	t.SetTitle("Failed Runs")
	t.AppendFooter(table.Row{"", "", "TOTAL", failed, ""})
	if r.styled {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleLight)
	}
	return r.write("\n" + t.Render() + "\n")
}

// ReportThresholds lists threshold outcomes.
func (r *Reporter) ReportThresholds(results []threshold.Result) error {
	if len(results) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("\n" + r.st.heading.Render("Thresholds:") + "\n")
	passed := 0
	for _, res := range results {
		line := res.Message
		if res.Pass {
			passed++
			line = r.st.pass.Render(line)
		} else {
			line = r.st.fail.Render(line)
		}
		b.WriteString("  " + line + "\n")
	}
	fmt.Fprintf(&b, "%d/%d thresholds passed\n", passed, len(results))
	return r.write(b.String())
}

// Notice prints a yellow informational line.
func (r *Reporter) Notice(msg string) {
	_ = r.write(r.st.notice.Render(msg) + "\n")
}

func (r *Reporter) write(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.w, s)
	return err
}
