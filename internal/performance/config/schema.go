// Package config provides the run configuration of a load test.
//
// A run configuration names the target, the credential pool and,
// optionally, scenarios and thresholds that replace a script's defaults:
//
//	{
//	  "baseUrl": "http://localhost:5000/api/v1",
//	  "users": [{"email": "a@example.com", "password": "secret"}],
//	  "scenarios": {
//	    "smoke": {"executor": "constant-vus", "vus": 5, "duration": "30s"}
//	  },
//	  "thresholds": {
//	    "http_req_duration": ["p(95)<500"],
//	    "http_req_duration{name:list}": ["p(95)<400"],
//	    "http_req_failed": [{"threshold": "rate<0.01", "abortOnFail": true}]
//	  },
//	  "authScenarios": {
//	    "different_ips": {"executor": "per-vu-iterations", "vus": 10, "iterations": 10, "maxDuration": "2m"}
//	  }
//	}
//
// Files ending in .json are checked against an embedded JSON Schema before
// decoding. Files ending in .yaml or .yml are decoded as YAML.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// TestConfig is the root configuration for a run.
type TestConfig struct {
	// BaseURL is the target API prefix, e.g. http://localhost:5000/api/v1
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Users is the credential pool scripts pick from
	Users []performance.User `json:"users" yaml:"users"`

	// Scenarios replace the selected script's default scenarios
	Scenarios map[string]*ScenarioConfig `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// AuthScenarios replace the default scenarios of the auth script only
	AuthScenarios map[string]*ScenarioConfig `json:"authScenarios,omitempty" yaml:"authScenarios,omitempty"`

	// Thresholds replace the selected script's default thresholds
	Thresholds map[string]ThresholdList `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Settings contains HTTP and execution settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RPS caps requests per second across the whole run; 0 is unlimited
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	// Seed makes think-time jitter and user selection reproducible
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus", "constant-arrival-rate",
	// "ramping-arrival-rate", "per-vu-iterations"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus, per-vu-iterations)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (constant executors)
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Iterations per VU (per-vu-iterations)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration bounds a per-vu-iterations scenario
	MaxDuration Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// StartVUs is the VU count at t=0 (ramping-vus)
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages defines ramping stages
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulRampDown is the drain time of VUs removed by a down-ramp
	GracefulRampDown Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// StartRate is the arrival rate at t=0 (ramping-arrival-rate)
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// Rate is the arrival rate (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period rates are expressed in (default 1s)
	TimeUnit Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs initialized before the start
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the pool cap of arrival-rate executors
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// DropPolicy is "drop" (default) or "queue"
	DropPolicy string `json:"dropPolicy,omitempty" yaml:"dropPolicy,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime delays the scenario relative to the start of the run
	StartTime Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate (ramping-arrival-rate)
	Target float64 `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// ThresholdList is the list of thresholds configured for one metric
// selector. A single definition is accepted in place of a list.
type ThresholdList []threshold.Definition

// UnmarshalJSON implements json.Unmarshaler.
func (l *ThresholdList) UnmarshalJSON(b []byte) error {
	var many []threshold.Definition
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one threshold.Definition
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = ThresholdList{one}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ThresholdList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var many []threshold.Definition
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one threshold.Definition
	if err := node.Decode(&one); err != nil {
		return err
	}
	*l = ThresholdList{one}
	return nil
}

// Definitions returns the thresholds in the form the evaluator binds.
func (c *TestConfig) Definitions() map[string][]threshold.Definition {
	if len(c.Thresholds) == 0 {
		return nil
	}
	out := make(map[string][]threshold.Definition, len(c.Thresholds))
	for k, v := range c.Thresholds {
		out[k] = []threshold.Definition(v)
	}
	return out
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML.
// It accepts Go duration strings ("30s", "1m30s") and bare numbers, which
// are seconds.
type Duration time.Duration

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as a number: "30" or "1.5"
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if secs, numErr := strconv.ParseFloat(s, 64); numErr == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration %q: use a Go duration such as 30s or a number of seconds", s)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
