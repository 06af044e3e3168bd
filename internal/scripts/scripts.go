// Package scripts holds the built-in load scripts and turns a script plus
// a run configuration into engine options.
package scripts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// Script is a named load test: an iteration body with default options.
type Script struct {
	Name        string
	Description string

	// Scenarios and Thresholds are used when the run config has none
	Scenarios  map[string]*config.ScenarioConfig
	Thresholds map[string]config.ThresholdList

	// UsesAuthScenarios gives the config's authScenarios precedence over
	// its scenarios.
	UsesAuthScenarios bool

	// NeedsUsers fails setup when the user pool is empty.
	NeedsUsers bool

	// Metrics registers the script's custom metrics.
	Metrics func(*metrics.Registry) error

	Exec performance.IterationFunc
}

var registry = map[string]*Script{}

func register(s *Script) {
	if _, dup := registry[s.Name]; dup {
		panic("scripts: duplicate script " + s.Name)
	}
	registry[s.Name] = s
}

// List returns every built-in script sorted by name.
func List() []*Script {
	out := make([]*Script, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the names of the built-in scripts.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, s := range List() {
		names = append(names, s.Name)
	}
	return names
}

// Get looks a script up by name. A "-test" suffix and a ".js" extension
// are ignored, so "auth-test.js" finds "auth".
func Get(name string) (*Script, error) {
	key := strings.TrimSuffix(strings.ToLower(name), ".js")
	key = strings.TrimSuffix(key, "-test")
	if s, ok := registry[key]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown script %q (available: %s)", name, strings.Join(Names(), ", "))
}

// DefaultScenarios returns a copy of the script's default scenarios.
func (s *Script) DefaultScenarios() map[string]*config.ScenarioConfig {
	return cloneScenarios(s.Scenarios)
}

// DefaultThresholds returns the script's default thresholds.
func (s *Script) DefaultThresholds() map[string][]threshold.Definition {
	out := make(map[string][]threshold.Definition, len(s.Thresholds))
	for k, v := range s.Thresholds {
		out[k] = append([]threshold.Definition(nil), v...)
	}
	return out
}

func cloneScenarios(in map[string]*config.ScenarioConfig) map[string]*config.ScenarioConfig {
	out := make(map[string]*config.ScenarioConfig, len(in))
	for name, sc := range in {
		out[name] = cloneScenario(sc)
	}
	return out
}

func cloneScenario(sc *config.ScenarioConfig) *config.ScenarioConfig {
	if sc == nil {
		return nil
	}
	c := *sc
	c.Stages = append([]config.StageConfig(nil), sc.Stages...)
	if sc.Pacing != nil {
		p := *sc.Pacing
		c.Pacing = &p
	}
	if sc.Tags != nil {
		c.Tags = make(map[string]string, len(sc.Tags))
		for k, v := range sc.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// limits builds a threshold map from plain expressions.
func limits(m map[string][]string) map[string]config.ThresholdList {
	out := make(map[string]config.ThresholdList, len(m))
	for metric, exprs := range m {
		list := make(config.ThresholdList, 0, len(exprs))
		for _, e := range exprs {
			list = append(list, threshold.Definition{Threshold: e})
		}
		out[metric] = list
	}
	return out
}
