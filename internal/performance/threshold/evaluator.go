package threshold

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Result is the outcome of one threshold evaluation.
type Result struct {
	// Metric is the selector the threshold is attached to
	Metric string `json:"metric"`

	Expression  string  `json:"expression"`
	Stat        string  `json:"stat"`
	Observed    float64 `json:"observed"`
	Limit       float64 `json:"limit"`
	Passed      bool    `json:"passed"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`

	// Contains tells how Observed should be rendered (default, time, data)
	Contains metrics.ValueType `json:"-"`
}

// bound is a threshold resolved against a registry.
type bound struct {
	*Threshold
	metric *metrics.Metric
	sink   metrics.Sink
}

// Set is the group of thresholds of a run.
type Set struct {
	items []*bound
}

// validStats lists the statistics each metric type supports; p(N) is
// handled separately for trends.
var validStats = map[metrics.Type]map[string]bool{
	metrics.TypeCounter: {"count": true, "rate": true},
	metrics.TypeGauge:   {"value": true, "min": true, "max": true},
	metrics.TypeRate:    {"rate": true},
	metrics.TypeTrend:   {"avg": true, "min": true, "max": true, "med": true, "count": true},
}

// Bind parses every configured threshold and resolves it against the
// registry. Selectors are processed in sorted order so that errors are
// reported deterministically. Unknown metrics, statistics a metric type
// does not support, and time units on non-time metrics are errors.
func Bind(registry *metrics.Registry, config map[string][]Definition) (*Set, error) {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := &Set{}
	for _, key := range keys {
		parsed, err := Parse(key, config[key])
		if err != nil {
			return nil, err
		}

		m, sink, err := registry.Resolve(key)
		if err != nil {
			return nil, &ParseError{Key: key, Reason: err.Error()}
		}

		for _, th := range parsed {
			if err := checkStat(m, th.Expr); err != nil {
				return nil, &ParseError{Key: key, Expr: th.Expr.Source, Reason: err.Error()}
			}
			set.items = append(set.items, &bound{Threshold: th, metric: m, sink: sink})
		}
	}
	return set, nil
}

func checkStat(m *metrics.Metric, e *Expr) error {
	if e.IsPercentile() {
		if m.Type != metrics.TypeTrend {
			return fmt.Errorf("%s is only supported on trend metrics, %s is a %s", e.Stat, m.Name, m.Type)
		}
	} else if !validStats[m.Type][e.Stat] {
		return fmt.Errorf("stat %s is not supported on %s metric %s", e.Stat, m.Type, m.Name)
	}
	if e.Unit != "" && m.Contains != metrics.Time {
		return fmt.Errorf("unit %s is only allowed on time metrics", e.Unit)
	}
	return nil
}

// Len returns the number of thresholds.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Evaluate checks every threshold against the current metric values.
// elapsed is the run time used for per-second rates.
func (s *Set) Evaluate(elapsed time.Duration) []Result {
	if s == nil {
		return nil
	}
	results := make([]Result, 0, len(s.items))
	for _, b := range s.items {
		results = append(results, b.evaluate(elapsed))
	}
	return results
}

// CheckAbort evaluates the abortOnFail thresholds whose delay has passed
// and returns the first failing one.
func (s *Set) CheckAbort(elapsed time.Duration) (Result, bool) {
	if s == nil {
		return Result{}, false
	}
	for _, b := range s.items {
		if !b.AbortOnFail || elapsed < b.DelayAbortEval {
			continue
		}
		if r := b.evaluate(elapsed); !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}

// HasAbortOnFail reports whether any threshold can abort the run.
func (s *Set) HasAbortOnFail() bool {
	if s == nil {
		return false
	}
	for _, b := range s.items {
		if b.AbortOnFail {
			return true
		}
	}
	return false
}

// AllPassed returns true when every result passed. An empty result set
// passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func (b *bound) evaluate(elapsed time.Duration) Result {
	observed := b.observe(elapsed)
	limit := b.Expr.Limit()
	return Result{
		Metric:      b.Selector,
		Expression:  b.Expr.Source,
		Stat:        b.Expr.Stat,
		Observed:    observed,
		Limit:       limit,
		Passed:      b.Expr.Op.Compare(observed, limit),
		AbortOnFail: b.AbortOnFail,
		Contains:    b.metric.Contains,
	}
}

func (b *bound) observe(elapsed time.Duration) float64 {
	e := b.Expr
	switch sink := b.sink.(type) {
	case *metrics.TrendSink:
		switch {
		case e.IsPercentile():
			return sink.Percentile(e.Percentile)
		case e.Stat == "avg":
			return sink.Avg()
		case e.Stat == "min":
			return sink.Min()
		case e.Stat == "max":
			return sink.Max()
		case e.Stat == "med":
			return sink.Med()
		case e.Stat == "count":
			return float64(sink.Count())
		}
	case *metrics.CounterSink:
		if e.Stat == "rate" {
			return sink.Rate(elapsed)
		}
		return sink.Count()
	case *metrics.RateSink:
		return sink.Rate()
	case *metrics.GaugeSink:
		return sink.Summary(elapsed)[e.Stat]
	}
	return 0
}
