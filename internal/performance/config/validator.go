package config

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire run configuration.
//
// Scenarios and thresholds are optional; when present they are checked the
// same way a script's defaults would be. Returns nil if valid, or a
// *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.BaseURL == "" {
		errs.Add("baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("baseUrl", fmt.Sprintf("invalid base URL %q: must be an absolute http(s) URL", c.BaseURL))
	}

	for i, u := range c.Users {
		if u.Email == "" {
			errs.Add(fmt.Sprintf("users[%d].email", i), "email is required")
		}
		if u.Password == "" {
			errs.Add(fmt.Sprintf("users[%d].password", i), "password is required")
		}
	}

	for _, name := range sortedNames(c.Scenarios) {
		ValidateScenario("scenarios."+name, c.Scenarios[name], errs)
	}
	for _, name := range sortedNames(c.AuthScenarios) {
		ValidateScenario("authScenarios."+name, c.AuthScenarios[name], errs)
	}

	validateThresholds(c.Definitions(), errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func sortedNames(m map[string]*ScenarioConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateScenario validates a single scenario configuration, adding any
// problem to errs under prefix.
func ValidateScenario(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc == nil {
		errs.Add(prefix, "scenario must not be empty")
		return
	}

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	case "constant-arrival-rate":
		validateConstantArrivalRate(prefix, sc, errs)
	case "ramping-arrival-rate":
		validateRampingArrivalRate(prefix, sc, errs)
	case "per-vu-iterations":
		validatePerVUIterations(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	if sc.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
	}
	if sc.StartTime < 0 {
		errs.Add(prefix+".startTime", "startTime cannot be negative")
	}
	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if sc.Duration <= 0 {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	}
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}
	if sc.GracefulRampDown < 0 {
		errs.Add(prefix+".gracefulRampDown", "gracefulRampDown cannot be negative")
	}
	validateStages(prefix, sc.Stages, "ramping-vus", errs)
	for i, s := range sc.Stages {
		if s.Target != math.Trunc(s.Target) {
			errs.Add(fmt.Sprintf("%s.stages[%d].target", prefix, i), "target must be a whole number of VUs")
		}
	}
}

// validateConstantArrivalRate validates constant-arrival-rate executor config.
func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}
	if sc.Duration <= 0 {
		errs.Add(prefix+".duration", "duration is required for constant-arrival-rate executor")
	}
	validatePool(prefix, sc, errs)
}

// validateRampingArrivalRate validates ramping-arrival-rate executor config.
func validateRampingArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.StartRate < 0 {
		errs.Add(prefix+".startRate", "startRate cannot be negative")
	}
	validateStages(prefix, sc.Stages, "ramping-arrival-rate", errs)
	validatePool(prefix, sc, errs)
}

func validatePool(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.TimeUnit < 0 {
		errs.Add(prefix+".timeUnit", "timeUnit cannot be negative")
	}
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
	if sc.PreAllocatedVUs == 0 && sc.MaxVUs == 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs or maxVUs must be set")
	}
	switch sc.DropPolicy {
	case "", "drop", "queue":
	default:
		errs.Add(prefix+".dropPolicy", fmt.Sprintf("unknown drop policy %q: use drop or queue", sc.DropPolicy))
	}
}

// validatePerVUIterations validates per-vu-iterations executor config.
func validatePerVUIterations(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if sc.Iterations <= 0 {
		errs.Add(prefix+".iterations", "iterations must be greater than 0")
	}
	if sc.MaxDuration < 0 {
		errs.Add(prefix+".maxDuration", "maxDuration cannot be negative")
	}
}

func validateStages(prefix string, stages []StageConfig, executor string, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add(prefix+".stages", fmt.Sprintf("at least one stage is required for %s executor", executor))
		return
	}

	var total Duration
	for i, s := range stages {
		field := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.Duration < 0 {
			errs.Add(field+".duration", "duration cannot be negative")
		}
		if s.Target < 0 {
			errs.Add(field+".target", "target cannot be negative")
		}
		total += s.Duration
	}
	if total <= 0 {
		errs.Add(prefix+".stages", "total stage duration must be greater than 0")
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, p *PacingConfig, errs *ValidationErrors) {
	switch p.Type {
	case "", "none":
	case "constant":
		if p.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		}
	case "random":
		if p.Min < 0 {
			errs.Add(prefix+".min", "min cannot be negative")
		}
		if p.Max < p.Min {
			errs.Add(prefix+".max", "max must be greater than or equal to min")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown pacing type: %s", p.Type))
	}
}

// validateThresholds checks selector and expression syntax. Whether the
// metric exists is only known once the script registered its metrics.
func validateThresholds(defs map[string][]threshold.Definition, errs *ValidationErrors) {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field := "thresholds." + key
		if _, _, err := metrics.ParseSelector(key); err != nil {
			errs.Add(field, err.Error())
			continue
		}
		if len(defs[key]) == 0 {
			errs.Add(field, "at least one threshold expression is required")
			continue
		}
		if _, err := threshold.Parse(key, defs[key]); err != nil {
			errs.Add(field, err.Error())
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.RPS < 0 {
		errs.Add("settings.rps", "rps cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}
