package output

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
)

// excerptLines is how much of the tail of a failed run's log the HTML report
// embeds.
const excerptLines = 40

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt string
	Report      SessionReport
	CommandLine string
	Failures    []FailureExcerpt
	ExitCodes   []metrics.ExitCodeBucket
}

// FailureExcerpt is the tail of one failed run's log, stripped of ANSI codes.
type FailureExcerpt struct {
	Index    int
	ExitCode int
	Reason   string
	LogPath  string
	Excerpt  string
}

// GenerateHTMLReport writes a standalone HTML report with the run table and
// log excerpts of failed runs.
func GenerateHTMLReport(w io.Writer, report SessionReport) error {
	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      report,
		CommandLine: strings.Join(report.Command, " "),
		ExitCodes:   metrics.FlattenExitCodes(report.Summary.ExitCodes),
	}
	for _, rec := range report.Runs {
		if rec.Status == session.StatusPass {
			continue
		}
		data.Failures = append(data.Failures, FailureExcerpt{
			Index:    rec.Index,
			ExitCode: rec.ExitCode,
			Reason:   metrics.DescribeExitCode(rec.ExitCode),
			LogPath:  rec.LogPath,
			Excerpt:  logExcerpt(rec.LogPath, excerptLines),
		})
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"verdictClass": func(v metrics.Verdict) string {
			switch v {
			case metrics.VerdictStable:
				return "success"
			case metrics.VerdictNoRuns:
				return "warning"
			default:
				return "error"
			}
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// WriteHTMLFile renders the report to path.
func WriteHTMLFile(path string, report SessionReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	if err := GenerateHTMLReport(f, report); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func logExcerpt(path string, lines int) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("(log unavailable: %v)", err)
	}
	text := strings.TrimRight(stripansi.Strip(string(data)), "\n")
	all := strings.Split(text, "\n")
	if len(all) > lines {
		all = append([]string{fmt.Sprintf("... %d earlier lines omitted ...", len(all)-lines)}, all[len(all)-lines:]...)
	}
	return strings.Join(all, "\n")
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Flakerun Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header { background: #334155; color: white; padding: 30px 40px; }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        header code { background: rgba(255,255,255,0.15); padding: 2px 6px; border-radius: 4px; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card { background: #f8f9fa; border-radius: 8px; padding: 20px; border-left: 4px solid #64748b; }
        .card h3 { font-size: 0.9rem; color: #6c757d; text-transform: uppercase; letter-spacing: 0.5px; margin-bottom: 10px; }
        .card .value { font-size: 2rem; font-weight: bold; }
        .card .subvalue { font-size: 0.85rem; color: #6c757d; margin-top: 5px; }
        .card.success { border-left-color: #10b981; }
        .card.error { border-left-color: #ef4444; }
        .card.warning { border-left-color: #f59e0b; }
        .section { margin-bottom: 40px; }
        .section h2 { font-size: 1.5rem; margin-bottom: 20px; padding-bottom: 10px; border-bottom: 2px solid #e5e7eb; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 10px 12px; border-bottom: 1px solid #e5e7eb; }
        th { background: #f8f9fa; font-weight: 600; color: #4b5563; font-size: 0.85rem; text-transform: uppercase; }
        td.num { text-align: right; font-variant-numeric: tabular-nums; }
        .badge { display: inline-block; padding: 2px 10px; border-radius: 12px; font-size: 0.8rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        details { margin-bottom: 16px; border: 1px solid #e5e7eb; border-radius: 6px; }
        summary { padding: 10px 14px; cursor: pointer; font-weight: 600; }
        pre { background: #0f172a; color: #e2e8f0; padding: 14px; overflow-x: auto; font-size: 0.8rem; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>Flakerun Report</h1>
        <div class="meta">
            <code>{{.CommandLine}}</code> &middot; session {{.Report.SessionID}} &middot; generated {{.GeneratedAt}}
            {{if .Report.Interrupted}}&middot; <strong>interrupted</strong>{{end}}
        </div>
    </header>
    <div class="content">
        <div class="grid">
            <div class="card {{verdictClass .Report.Summary.Verdict}}">
                <h3>Verdict</h3>
                <div class="value">{{.Report.Summary.Verdict}}</div>
                <div class="subvalue">{{.Report.Summary.Total}} of {{.Report.Iterations}} runs completed</div>
            </div>
            <div class="card success">
                <h3>Passed</h3>
                <div class="value">{{.Report.Summary.Passes}}</div>
                <div class="subvalue">{{formatFloat .Report.Summary.PassRate}}%</div>
            </div>
            <div class="card error">
                <h3>Failed</h3>
                <div class="value">{{.Report.Summary.Failures}}</div>
                <div class="subvalue">{{formatFloat .Report.Summary.FailRate}}%</div>
            </div>
            <div class="card">
                <h3>Duration (ms)</h3>
                <div class="value">{{.Report.Summary.AvgMs}}</div>
                <div class="subvalue">min {{.Report.Summary.MinMs}} &middot; max {{.Report.Summary.MaxMs}} &middot; p99 {{.Report.Summary.P99Ms}}</div>
            </div>
        </div>

        {{if .Report.Thresholds}}
        <div class="section">
            <h2>Thresholds ({{.Report.Thresholds.Passed}}/{{.Report.Thresholds.Total}} passed)</h2>
            <table>
                <thead><tr><th>Threshold</th><th>Actual</th><th>Result</th></tr></thead>
                <tbody>
                {{range .Report.Thresholds.Results}}
                <tr>
                    <td>{{.Threshold}}</td>
                    <td class="num">{{formatFloat .Actual}}</td>
                    <td>{{if .Pass}}<span class="badge badge-success">PASS</span>{{else}}<span class="badge badge-error">FAIL</span>{{end}}</td>
                </tr>
                {{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        {{if .ExitCodes}}
        <div class="section">
            <h2>Failures by Exit Code</h2>
            <table>
                <thead><tr><th>Exit Code</th><th>Runs</th></tr></thead>
                <tbody>
                {{range .ExitCodes}}<tr><td>{{.ExitCode}}</td><td class="num">{{.Count}}</td></tr>{{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        <div class="section">
            <h2>Runs</h2>
            <table>
                <thead><tr><th>Run</th><th>Status</th><th>Exit</th><th>Duration (ms)</th><th>Log</th></tr></thead>
                <tbody>
                {{range .Report.Runs}}
                <tr>
                    <td class="num">{{.Index}}</td>
                    <td>{{if eq .Status "PASS"}}<span class="badge badge-success">PASS</span>{{else}}<span class="badge badge-error">FAIL</span>{{end}}</td>
                    <td class="num">{{.ExitCode}}</td>
                    <td class="num">{{.DurationMs}}</td>
                    <td>{{.LogPath}}</td>
                </tr>
                {{end}}
                </tbody>
            </table>
        </div>

        {{if .Failures}}
        <div class="section">
            <h2>Failed Run Logs</h2>
            {{range .Failures}}
            <details>
                <summary>Run {{.Index}}: {{.Reason}}</summary>
                <pre>{{.Excerpt}}</pre>
            </details>
            {{end}}
        </div>
        {{end}}
    </div>
</div>
</body>
</html>
`
