package engine

import (
	"time"

	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// TestResult contains the complete test results. It is built once at the
// end of Run and never modified afterwards.
type TestResult struct {
	// Test metadata
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Scenario results, in configuration order
	Scenarios []*ScenarioResult `json:"scenarios"`

	// Aggregated statistics across all scenarios
	Summary Summary          `json:"summary"`
	Metrics []*MetricSummary `json:"metrics"`

	// Threshold evaluation
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Aborted is set when an abortOnFail threshold ended the run early
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abortReason,omitempty"`

	// Interrupted is set when the run context was cancelled
	Interrupted bool `json:"interrupted,omitempty"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name                  string        `json:"name"`
	Executor              executor.Type `json:"executor"`
	StartTime             time.Time     `json:"startTime"`
	Duration              time.Duration `json:"duration"`
	Iterations            int64         `json:"iterations"`
	InterruptedIterations int64         `json:"interruptedIterations"`
	DroppedIterations     int64         `json:"droppedIterations"`
	MaxVUs                int           `json:"maxVUs"`
	Skipped               bool          `json:"skipped,omitempty"`
	Error                 string        `json:"error,omitempty"`
}

// Summary holds the aggregate numbers every report shows.
type Summary struct {
	Iterations            int64   `json:"iterations"`
	IterationErrors       int64   `json:"iterationErrors"`
	InterruptedIterations int64   `json:"interruptedIterations"`
	DroppedIterations     int64   `json:"droppedIterations"`
	Requests              int64   `json:"requests"`
	FailedRequests        int64   `json:"failedRequests"`
	FailureRate           float64 `json:"failureRate"`
	RequestsPerSecond     float64 `json:"requestsPerSecond"`
	ChecksPassed          int64   `json:"checksPassed"`
	ChecksFailed          int64   `json:"checksFailed"`
	DataSent              int64   `json:"dataSent"`
	DataReceived          int64   `json:"dataReceived"`
	VUsMax                int     `json:"vusMax"`
}

// MetricSummary is the end-of-run view of one metric.
type MetricSummary struct {
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	Contains   string              `json:"contains"`
	Values     map[string]float64  `json:"values"`
	Submetrics []*SubmetricSummary `json:"submetrics,omitempty"`

	metricType metrics.Type
	valueType  metrics.ValueType
}

// SubmetricSummary is the end-of-run view of a tag-filtered submetric.
type SubmetricSummary struct {
	Name   string             `json:"name"`
	Tags   metrics.Tags       `json:"tags"`
	Values map[string]float64 `json:"values"`
}

// MetricType returns the kind of the summarized metric.
func (m *MetricSummary) MetricType() metrics.Type { return m.metricType }

// ValueType returns what the samples of the summarized metric measure.
func (m *MetricSummary) ValueType() metrics.ValueType { return m.valueType }

// Metric returns the summary for name, or nil.
func (r *TestResult) Metric(name string) *MetricSummary {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Submetric returns the summary of the named submetric, or nil.
func (m *MetricSummary) Submetric(name string) *SubmetricSummary {
	if m == nil {
		return nil
	}
	for _, sm := range m.Submetrics {
		if sm.Name == name {
			return sm
		}
	}
	return nil
}

// FailedThresholds returns the thresholds that did not pass.
func (r *TestResult) FailedThresholds() []threshold.Result {
	var failed []threshold.Result
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}

// snapshotMetrics summarizes every metric of the registry.
func snapshotMetrics(registry *metrics.Registry, elapsed time.Duration) []*MetricSummary {
	all := registry.All()
	out := make([]*MetricSummary, 0, len(all))
	for _, m := range all {
		ms := &MetricSummary{
			Name:       m.Name,
			Type:       m.Type.String(),
			Contains:   m.Contains.String(),
			Values:     m.Sink.Summary(elapsed),
			metricType: m.Type,
			valueType:  m.Contains,
		}
		for _, sm := range m.Submetrics() {
			ms.Submetrics = append(ms.Submetrics, &SubmetricSummary{
				Name:   sm.Name,
				Tags:   sm.Tags.Clone(),
				Values: sm.Sink.Summary(elapsed),
			})
		}
		out = append(out, ms)
	}
	return out
}

func summarize(b *metrics.BuiltinMetrics, scenarios []*ScenarioResult, elapsed time.Duration) Summary {
	var s Summary

	if c, ok := b.Iterations.Sink.(*metrics.CounterSink); ok {
		s.Iterations = int64(c.Count())
	}
	if c, ok := b.IterationErrors.Sink.(*metrics.CounterSink); ok {
		s.IterationErrors = int64(c.Count())
	}
	if c, ok := b.DroppedIterations.Sink.(*metrics.CounterSink); ok {
		s.DroppedIterations = int64(c.Count())
	}
	if c, ok := b.HTTPReqs.Sink.(*metrics.CounterSink); ok {
		s.Requests = int64(c.Count())
		s.RequestsPerSecond = c.Rate(elapsed)
	}
	if r, ok := b.HTTPReqFailed.Sink.(*metrics.RateSink); ok {
		s.FailedRequests = r.Passes()
		s.FailureRate = r.Rate()
	}
	if r, ok := b.Checks.Sink.(*metrics.RateSink); ok {
		s.ChecksPassed = r.Passes()
		s.ChecksFailed = r.Fails()
	}
	if c, ok := b.DataSent.Sink.(*metrics.CounterSink); ok {
		s.DataSent = int64(c.Count())
	}
	if c, ok := b.DataReceived.Sink.(*metrics.CounterSink); ok {
		s.DataReceived = int64(c.Count())
	}
	if g, ok := b.VUsMax.Sink.(*metrics.GaugeSink); ok {
		s.VUsMax = int(g.Max())
	}

	for _, sc := range scenarios {
		s.InterruptedIterations += sc.InterruptedIterations
	}
	return s
}
