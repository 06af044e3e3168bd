package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Report is the JSON document written for a run.
type Report struct {
	RunID       string    `json:"runId"`
	Name        string    `json:"name,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	DurationMs  float64   `json:"durationMs"`
	Passed      bool      `json:"passed"`
	Aborted     bool      `json:"aborted,omitempty"`
	AbortReason string    `json:"abortReason,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`

	Summary    engine.Summary           `json:"summary"`
	Thresholds []ThresholdReport        `json:"thresholds"`
	Scenarios  []ScenarioReport         `json:"scenarios"`
	Metrics    map[string]*MetricReport `json:"metrics"`
}

// ThresholdReport is one threshold verdict.
type ThresholdReport struct {
	Metric      string  `json:"metric"`
	Threshold   string  `json:"threshold"`
	Stat        string  `json:"stat"`
	Observed    float64 `json:"observed"`
	Limit       float64 `json:"limit"`
	Passed      bool    `json:"passed"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
}

// ScenarioReport is the outcome of one scenario.
type ScenarioReport struct {
	Name                  string  `json:"name"`
	Executor              string  `json:"executor"`
	DurationMs            float64 `json:"durationMs"`
	Iterations            int64   `json:"iterations"`
	InterruptedIterations int64   `json:"interruptedIterations"`
	DroppedIterations     int64   `json:"droppedIterations"`
	MaxVUs                int     `json:"maxVUs"`
	Skipped               bool    `json:"skipped,omitempty"`
	Error                 string  `json:"error,omitempty"`
}

// MetricReport holds a metric's statistics and those of its submetrics,
// keyed by tag filter (e.g. "name:tasks").
type MetricReport struct {
	Type       string                        `json:"type"`
	Contains   string                        `json:"contains"`
	Values     map[string]float64            `json:"values"`
	Submetrics map[string]map[string]float64 `json:"submetrics,omitempty"`
}

// NewReport builds the JSON report of a result.
func NewReport(result *engine.TestResult) *Report {
	r := &Report{
		RunID:       result.RunID,
		Name:        result.Name,
		StartTime:   result.StartTime,
		EndTime:     result.EndTime,
		DurationMs:  metrics.Millis(result.Duration),
		Passed:      result.Passed,
		Aborted:     result.Aborted,
		AbortReason: result.AbortReason,
		Interrupted: result.Interrupted,
		Summary:     result.Summary,
		Thresholds:  make([]ThresholdReport, 0, len(result.Thresholds)),
		Scenarios:   make([]ScenarioReport, 0, len(result.Scenarios)),
		Metrics:     make(map[string]*MetricReport, len(result.Metrics)),
	}

	for _, t := range result.Thresholds {
		r.Thresholds = append(r.Thresholds, ThresholdReport{
			Metric:      t.Metric,
			Threshold:   t.Expression,
			Stat:        t.Stat,
			Observed:    t.Observed,
			Limit:       t.Limit,
			Passed:      t.Passed,
			AbortOnFail: t.AbortOnFail,
		})
	}

	for _, sc := range result.Scenarios {
		r.Scenarios = append(r.Scenarios, ScenarioReport{
			Name:                  sc.Name,
			Executor:              string(sc.Executor),
			DurationMs:            metrics.Millis(sc.Duration),
			Iterations:            sc.Iterations,
			InterruptedIterations: sc.InterruptedIterations,
			DroppedIterations:     sc.DroppedIterations,
			MaxVUs:                sc.MaxVUs,
			Skipped:               sc.Skipped,
			Error:                 sc.Error,
		})
	}

	for _, m := range result.Metrics {
		mr := &MetricReport{
			Type:     m.Type,
			Contains: m.Contains,
			Values:   m.Values,
		}
		for _, sm := range m.Submetrics {
			if mr.Submetrics == nil {
				mr.Submetrics = make(map[string]map[string]float64)
			}
			mr.Submetrics[sm.Tags.String()] = sm.Values
		}
		r.Metrics[m.Name] = mr
	}

	return r
}

// WriteJSON writes the indented JSON report of result to w.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(NewReport(result)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteJSONFile writes the JSON report of result to path, creating parent
// directories as needed. A path of "-" writes to stdout.
func WriteJSONFile(path string, result *engine.TestResult) error {
	if path == "-" {
		return WriteJSON(os.Stdout, result)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadJSON decodes a report previously written by WriteJSON.
func ReadJSON(r io.Reader) (*Report, error) {
	var report Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}
