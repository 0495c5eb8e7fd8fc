package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/throttleprobe/internal/config"
	"github.com/torosent/throttleprobe/internal/metrics"
	"github.com/torosent/throttleprobe/internal/runner"
	"github.com/torosent/throttleprobe/internal/threshold"
)

// Report is the serializable view of a finished run.
type Report struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Responses  int            `json:"responses" yaml:"responses"`
	TimedOut   bool           `json:"timed_out" yaml:"timed_out"`
	Dropped    int            `json:"dropped" yaml:"dropped"`
	DurationMs float64        `json:"duration_ms" yaml:"duration_ms"`
	Windows    []WindowReport `json:"windows" yaml:"windows"`
	Stats      metrics.Stats  `json:"stats" yaml:"stats"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`

	Thresholds *ThresholdSummary `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ThresholdSummary tallies the threshold outcomes of a run.
type ThresholdSummary struct {
	Total   int               `json:"total" yaml:"total"`
	Passed  int               `json:"passed" yaml:"passed"`
	Failed  int               `json:"failed" yaml:"failed"`
	Results []ThresholdResult `json:"results" yaml:"results"`
}

// ThresholdResult is one evaluated threshold.
type ThresholdResult struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// WindowReport is one rate limit window with millisecond fields.
type WindowReport struct {
	StartAt     time.Time `json:"start_at" yaml:"start_at"`
	EndAt       time.Time `json:"end_at" yaml:"end_at"`
	DurationMs  float64   `json:"duration_ms" yaml:"duration_ms"`
	Hits        int       `json:"hits" yaml:"hits"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	MaxPending  int       `json:"max_pending" yaml:"max_pending"`
	LastDelayMs float64   `json:"last_delay_ms" yaml:"last_delay_ms"`
}

// NewReport builds a Report from a run result. runErr is the error Run
// returned, if any.
func NewReport(res runner.Result, runErr error) Report {
	r := Report{
		RunID:      res.RunID,
		Responses:  len(res.Responses),
		TimedOut:   res.TimedOut,
		Dropped:    res.Dropped,
		DurationMs: millis(res.Duration),
		Windows:    make([]WindowReport, 0, len(res.Windows)),
		Stats:      res.Stats,
	}
	for _, w := range res.Windows {
		r.Windows = append(r.Windows, WindowReport{
			StartAt:     w.StartAt,
			EndAt:       w.EndAt,
			DurationMs:  millis(w.Duration),
			Hits:        w.Hits,
			Attempts:    w.Attempts,
			MaxPending:  w.MaxPending,
			LastDelayMs: millis(w.LastDelay),
		})
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// NewThresholdSummary converts evaluated thresholds. It returns nil when
// there are none so the report omits the section.
func NewThresholdSummary(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResult, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResult{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// Write renders report in the given format. An empty format means text.
func Write(w io.Writer, format config.OutputFormat, report Report) error {
	switch format {
	case "", config.OutputText:
		PrintReport(w, report)
		return nil
	case config.OutputJSON:
		return PrintJSONReport(w, report)
	case config.OutputYAML:
		return PrintYAMLReport(w, report)
	case config.OutputHTML:
		return GenerateHTMLReport(w, report)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, report Report) {
	stats := report.Stats
	fmt.Fprintln(w, "\n--- Rate Limit Probe Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", report.RunID)
	fmt.Fprintf(w, "Responses:         %d\n", report.Responses)
	fmt.Fprintf(w, "Timed Out:         %t\n", report.TimedOut)
	fmt.Fprintf(w, "Duration:          %s\n", time.Duration(report.DurationMs*float64(time.Millisecond)).Round(time.Millisecond))
	if report.Error != "" {
		fmt.Fprintf(w, "Error:             %s\n", report.Error)
	}
	fmt.Fprintln(w, "\nAttempts:")
	fmt.Fprintf(w, "  Total:           %d\n", stats.Attempts)
	fmt.Fprintf(w, "  Successful:      %d\n", stats.Successes)
	fmt.Fprintf(w, "  Throttled (429): %d\n", stats.Throttled)
	fmt.Fprintf(w, "  Failed:          %d\n", stats.Failures)
	fmt.Fprintf(w, "  Dropped:         %d\n", stats.Dropped)
	fmt.Fprintf(w, "  Attempts/sec:    %.2f\n", stats.AttemptsPerSec)
	if stats.Records > 0 {
		fmt.Fprintf(w, "  Records:         %d\n", stats.Records)
	}
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		for _, row := range metrics.SortedStatusBuckets(stats.StatusCodes) {
			fmt.Fprintf(w, "  %d: %d\n", row.Code, row.Count)
		}
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, name := range sortedErrorNames(stats.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", metrics.FriendlyErrorName(name), stats.Errors[name])
		}
	}

	if t := report.Thresholds; t != nil {
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", t.Passed, t.Total)
		for _, r := range t.Results {
			status := "PASS"
			if !r.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(w, "  %s %s (actual %.2f)\n", status, r.Threshold, r.Actual)
		}
	}

	fmt.Fprintln(w, "\nRate Limit Windows:")
	if len(report.Windows) == 0 {
		fmt.Fprintln(w, "  None")
		return
	}
	for i, win := range report.Windows {
		fmt.Fprintf(
			w,
			"  #%d: duration=%.0fms, hits=%d, attempts=%d, max_pending=%d, last_delay=%.0fms\n",
			i+1,
			win.DurationMs,
			win.Hits,
			win.Attempts,
			win.MaxPending,
			win.LastDelayMs,
		)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

// sortedErrorNames orders failure classes by descending count.
func sortedErrorNames(errs map[string]int64) []string {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if errs[names[i]] == errs[names[j]] {
			return names[i] < names[j]
		}
		return errs[names[i]] > errs[names[j]]
	})
	return names
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
