package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// DefaultSubmetricTags are the tag keys that get an automatic per-value
// breakdown on every metric.
var DefaultSubmetricTags = []string{"scenario", "name", "endpoint", "method", "status", "check", "group"}

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// Registry owns the metrics of one run.
//
// A registry is created per run and handed to every component that records
// samples; there is no package-level registry.
type Registry struct {
	mu       sync.RWMutex
	metrics  map[string]*Metric
	autoTags []string
}

// NewRegistry creates an empty registry. autoTags overrides
// DefaultSubmetricTags when given.
func NewRegistry(autoTags ...string) *Registry {
	if len(autoTags) == 0 {
		autoTags = DefaultSubmetricTags
	}
	tags := make([]string, len(autoTags))
	copy(tags, autoTags)

	return &Registry{
		metrics:  make(map[string]*Metric),
		autoTags: tags,
	}
}

// NewMetric registers a metric, or returns the existing one when a metric of
// the same name and type is already registered.
func (r *Registry) NewMetric(name string, typ Type, contains ...ValueType) (*Metric, error) {
	if !metricNameRE.MatchString(name) {
		return nil, fmt.Errorf("invalid metric name %q", name)
	}

	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if existing.Type != typ {
			return nil, fmt.Errorf("metric %q already registered as %s, not %s", name, existing.Type, typ)
		}
		return existing, nil
	}

	m := newMetric(name, typ, vt, r.autoTags)
	r.metrics[name] = m
	return m, nil
}

// MustNewMetric is like NewMetric but panics on error.
func (r *Registry) MustNewMetric(name string, typ Type, contains ...ValueType) *Metric {
	m, err := r.NewMetric(name, typ, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get returns the metric registered under name, or nil.
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All returns every registered metric sorted by name.
func (r *Registry) All() []*Metric {
	r.mu.RLock()
	out := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns the sink addressed by a selector such as
// "http_req_duration" or "http_req_duration{endpoint:profile}". Tag-filtered
// selectors register their submetric if needed.
func (r *Registry) Resolve(selector string) (*Metric, Sink, error) {
	name, filter, err := ParseSelector(selector)
	if err != nil {
		return nil, nil, err
	}

	m := r.Get(name)
	if m == nil {
		return nil, nil, fmt.Errorf("unknown metric %q", name)
	}
	if len(filter) == 0 {
		return m, m.Sink, nil
	}
	return m, m.AddSubmetric(filter).Sink, nil
}
