// Package metrics provides the metric primitives of a load-test run.
//
// Four kinds of metric are supported:
//   - Counter: monotonic sum
//   - Gauge: last value (min/max retained)
//   - Rate: fraction of true samples
//   - Trend: value distribution with percentile queries
//
// Every metric may be partitioned by tags. A submetric such as
// http_req_duration{endpoint:profile} only receives samples whose tags
// contain the submetric's filter.
//
// # Thread Safety
//
// Metrics and registries are safe for concurrent use. Counter and Rate
// updates are lock-free; Trend and Gauge updates take a per-sink mutex.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Type identifies the kind of a metric.
type Type int

const (
	// TypeCounter is a monotonic sum.
	TypeCounter Type = iota
	// TypeGauge holds the last value set.
	TypeGauge
	// TypeRate is the fraction of non-zero samples.
	TypeRate
	// TypeTrend is a distribution of values.
	TypeTrend
)

func (t Type) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeRate:
		return "rate"
	case TypeTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// ValueType describes what the samples of a metric measure.
type ValueType int

const (
	// Default is a plain number.
	Default ValueType = iota
	// Time samples are milliseconds.
	Time
	// Data samples are bytes.
	Data
)

func (v ValueType) String() string {
	switch v {
	case Time:
		return "time"
	case Data:
		return "data"
	default:
		return "default"
	}
}

// Metric is a named metric with its root sink and tag-filtered submetrics.
type Metric struct {
	Name     string
	Type     Type
	Contains ValueType
	Sink     Sink

	// Tag keys that get an automatic per-value submetric.
	autoTags []string

	mu       sync.RWMutex
	byTag    map[string]*Submetric
	filtered []*Submetric
}

// Submetric is a view of a metric restricted to samples carrying Tags.
type Submetric struct {
	// Name is the full selector, e.g. "http_req_duration{endpoint:profile}".
	Name   string
	Suffix string
	Parent *Metric
	Tags   Tags
	Sink   Sink
}

func newMetric(name string, typ Type, contains ValueType, autoTags []string) *Metric {
	return &Metric{
		Name:     name,
		Type:     typ,
		Contains: contains,
		Sink:     newSink(typ),
		autoTags: autoTags,
		byTag:    make(map[string]*Submetric),
	}
}

// Add records a sample on the metric and on every submetric whose filter is
// contained in tags.
func (m *Metric) Add(value float64, tags Tags) {
	m.Sink.Add(value)
	if len(tags) == 0 {
		return
	}

	m.mu.RLock()
	for _, sm := range m.filtered {
		if tags.Contains(sm.Tags) {
			sm.Sink.Add(value)
		}
	}
	m.mu.RUnlock()

	for _, key := range m.autoTags {
		v, ok := tags[key]
		if !ok {
			continue
		}
		m.tagSubmetric(key, v).Sink.Add(value)
	}
}

// AddDuration records a duration sample in milliseconds.
func (m *Metric) AddDuration(d time.Duration, tags Tags) {
	m.Add(Millis(d), tags)
}

// AddBool records a boolean sample (Rate metrics).
func (m *Metric) AddBool(ok bool, tags Tags) {
	if ok {
		m.Add(1, tags)
		return
	}
	m.Add(0, tags)
}

// tagSubmetric returns the automatic submetric for key:value, creating it on
// first use.
func (m *Metric) tagSubmetric(key, value string) *Submetric {
	suffix := key + ":" + value

	m.mu.RLock()
	sm, ok := m.byTag[suffix]
	m.mu.RUnlock()
	if ok {
		return sm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.byTag[suffix]; ok {
		return sm
	}
	sm = m.newSubmetric(Tags{key: value})
	m.byTag[suffix] = sm
	return sm
}

func (m *Metric) newSubmetric(filter Tags) *Submetric {
	suffix := filter.String()
	return &Submetric{
		Name:   m.Name + "{" + suffix + "}",
		Suffix: suffix,
		Parent: m,
		Tags:   filter.Clone(),
		Sink:   newSink(m.Type),
	}
}

func (m *Metric) isAutoTag(key string) bool {
	for _, k := range m.autoTags {
		if k == key {
			return true
		}
	}
	return false
}

// AddSubmetric registers a submetric for filter and returns it. Registering
// the same filter twice returns the existing submetric. Samples recorded
// before registration are not replayed, so submetrics should be declared
// before the run starts.
func (m *Metric) AddSubmetric(filter Tags) *Submetric {
	if len(filter) == 1 {
		for k, v := range filter {
			if m.isAutoTag(k) {
				return m.tagSubmetric(k, v)
			}
		}
	}

	suffix := filter.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sm := range m.filtered {
		if sm.Suffix == suffix {
			return sm
		}
	}
	sm := m.newSubmetric(filter)
	m.filtered = append(m.filtered, sm)
	return sm
}

// Submetric returns the submetric for filter if it exists.
func (m *Metric) Submetric(filter Tags) (*Submetric, bool) {
	suffix := filter.String()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if sm, ok := m.byTag[suffix]; ok {
		return sm, true
	}
	for _, sm := range m.filtered {
		if sm.Suffix == suffix {
			return sm, true
		}
	}
	return nil, false
}

// Submetrics returns every submetric sorted by name.
func (m *Metric) Submetrics() []*Submetric {
	m.mu.RLock()
	out := make([]*Submetric, 0, len(m.byTag)+len(m.filtered))
	for _, sm := range m.byTag {
		out = append(out, sm)
	}
	out = append(out, m.filtered...)
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
