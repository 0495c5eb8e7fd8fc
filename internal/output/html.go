package output

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/throttleprobe/internal/metrics"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt string
	Report      Report
	StatusCodes []metrics.StatusBucket
	Errors      []namedCount
}

type namedCount struct {
	Name  string
	Count int64
}

// GenerateHTMLReport generates a standalone HTML report of one run.
func GenerateHTMLReport(w io.Writer, report Report) error {
	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      report,
		StatusCodes: metrics.SortedStatusBuckets(report.Stats.StatusCodes),
	}
	for _, name := range sortedErrorNames(report.Stats.Errors) {
		data.Errors = append(data.Errors, namedCount{
			Name:  metrics.FriendlyErrorName(name),
			Count: report.Stats.Errors[name],
		})
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.String()
		},
		"formatMs": func(ms float64) string {
			return fmt.Sprintf("%.0fms", ms)
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
		"inc": func(i int) int { return i + 1 },
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Rate Limit Probe Report</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>Rate Limit Probe Report</h1>
            <div class="meta" style="margin-top: 5px;">Run: {{.Report.RunID}}</div>
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{formatMs .Report.DurationMs}}</div>
        </header>

        <div class="content">
            {{if .Report.Error}}
            <div class="card error" style="margin-bottom: 40px;">
                <h3>Run Failed</h3>
                <div class="subvalue">{{.Report.Error}}</div>
            </div>
            {{end}}

            <!-- Summary Cards -->
            <div class="grid">
                <div class="card">
                    <h3>Responses</h3>
                    <div class="value">{{.Report.Responses}}</div>
                    <div class="subvalue">{{if .Report.TimedOut}}timed out{{else}}completed{{end}}</div>
                </div>
                <div class="card success">
                    <h3>Successful Attempts</h3>
                    <div class="value">{{.Report.Stats.Successes}}</div>
                    <div class="subvalue">{{formatPercent .Report.Stats.Successes .Report.Stats.Attempts}}%</div>
                </div>
                <div class="card warning">
                    <h3>Throttled (429)</h3>
                    <div class="value">{{.Report.Stats.Throttled}}</div>
                    <div class="subvalue">{{formatPercent .Report.Stats.Throttled .Report.Stats.Attempts}}%</div>
                </div>
                <div class="card error">
                    <h3>Failed / Dropped</h3>
                    <div class="value">{{.Report.Stats.Failures}} / {{.Report.Stats.Dropped}}</div>
                </div>
                <div class="card">
                    <h3>Attempts/sec</h3>
                    <div class="value">{{formatFloat .Report.Stats.AttemptsPerSec}}</div>
                </div>
            </div>

            <!-- Rate Limit Windows -->
            <div class="section">
                <h2>Rate Limit Windows</h2>
                {{if .Report.Windows}}
                <table>
                    <thead>
                        <tr>
                            <th>#</th>
                            <th>Started</th>
                            <th>Duration</th>
                            <th>Hits</th>
                            <th>Attempts</th>
                            <th>Max Pending</th>
                            <th>Last Delay</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range $i, $w := .Report.Windows}}
                        <tr>
                            <td>{{inc $i}}</td>
                            <td>{{$w.StartAt.Format "15:04:05.000"}}</td>
                            <td>{{formatMs $w.DurationMs}}</td>
                            <td>{{$w.Hits}}</td>
                            <td>{{$w.Attempts}}</td>
                            <td>{{$w.MaxPending}}</td>
                            <td>{{formatMs $w.LastDelayMs}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="no-data">No rate limiting observed</div>
                {{end}}
            </div>

            <!-- Latency Statistics -->
            <div class="section">
                <h2>Latency Statistics</h2>
                <div class="latency-grid">
                    <div class="latency-item">
                        <div class="label">Min</div>
                        <div class="value">{{formatDuration .Report.Stats.MinLatency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Max</div>
                        <div class="value">{{formatDuration .Report.Stats.MaxLatency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Mean</div>
                        <div class="value">{{formatDuration .Report.Stats.MeanLatency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P50</div>
                        <div class="value">{{formatDuration .Report.Stats.P50Latency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P90</div>
                        <div class="value">{{formatDuration .Report.Stats.P90Latency}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P99</div>
                        <div class="value">{{formatDuration .Report.Stats.P99Latency}}</div>
                    </div>
                </div>
            </div>

            <!-- Status Codes -->
            {{if .StatusCodes}}
            <div class="section">
                <h2>Status Codes</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Code</th>
                            <th>Count</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .StatusCodes}}
                        <tr>
                            <td>{{if eq .Code 429}}<span class="badge badge-error">{{.Code}}</span>{{else}}<span class="badge badge-success">{{.Code}}</span>{{end}}</td>
                            <td>{{.Count}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- Thresholds -->
            {{with .Report.Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.Passed}}/{{.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Metric</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Metric}} ({{.Aggregate}})</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">PASS</span>
                                {{else}}
                                <span class="badge badge-error">FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- Errors -->
            {{if .Errors}}
            <div class="section">
                <h2>Errors</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Type</th>
                            <th>Count</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Errors}}
                        <tr>
                            <td>{{.Name}}</td>
                            <td>{{.Count}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>
</body>
</html>
`
