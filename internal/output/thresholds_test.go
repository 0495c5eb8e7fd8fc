package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/torosent/throttleprobe/internal/runner"
	"github.com/torosent/throttleprobe/internal/threshold"
)

func sampleThresholdResults() []threshold.Result {
	return []threshold.Result{
		{
			Threshold: threshold.Threshold{Metric: "throttled", Aggregate: "rate", Operator: "<", Value: 0.5, Raw: "throttled:rate < 0.5"},
			Actual:    0.25,
			Pass:      true,
		},
		{
			Threshold: threshold.Threshold{Metric: "windows", Aggregate: "count", Operator: "==", Value: 0, Raw: "windows:count == 0"},
			Actual:    1,
			Pass:      false,
		},
	}
}

func TestNewThresholdSummary(t *testing.T) {
	if got := NewThresholdSummary(nil); got != nil {
		t.Fatalf("NewThresholdSummary(nil) = %+v, want nil", got)
	}

	summary := NewThresholdSummary(sampleThresholdResults())
	if summary.Total != 2 || summary.Passed != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 2 total, 1 passed, 1 failed", summary)
	}
	first := summary.Results[0]
	if first.Threshold != "throttled:rate < 0.5" || first.Expected != 0.5 || first.Actual != 0.25 || !first.Pass {
		t.Errorf("Results[0] = %+v", first)
	}
}

func TestPrintReportThresholds(t *testing.T) {
	report := NewReport(runner.Result{RunID: "r"}, nil)
	report.Thresholds = NewThresholdSummary(sampleThresholdResults())

	var buf bytes.Buffer
	PrintReport(&buf, report)
	out := buf.String()
	for _, want := range []string{
		"Thresholds (1/2 passed):",
		"  PASS throttled:rate < 0.5 (actual 0.25)",
		"  FAIL windows:count == 0 (actual 1.00)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestJSONReportOmitsThresholdsWhenUnset(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, NewReport(runner.Result{RunID: "r"}, nil)); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := decoded["thresholds"]; ok {
		t.Error("thresholds should be omitted when none were configured")
	}
}

func TestGenerateHTMLReportThresholds(t *testing.T) {
	report := NewReport(runner.Result{RunID: "r"}, nil)
	report.Thresholds = NewThresholdSummary(sampleThresholdResults())

	var buf bytes.Buffer
	if err := GenerateHTMLReport(&buf, report); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}
	html := buf.String()
	for _, want := range []string{
		"Thresholds (1/2 Passed)",
		"<td>throttled (rate)</td>",
		"<td>&lt; 0.50</td>",
		`<span class="badge badge-error">FAIL</span>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML report missing %q", want)
		}
	}
}
