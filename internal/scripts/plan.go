package scripts

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// EnvThinkTimeScale is the shared env key scaling every script sleep.
const EnvThinkTimeScale = "THINK_TIME_SCALE"

// Overrides are command line changes to a script's first scenario.
//
//   - Stages replace the stages of a ramping scenario; any other executor
//     becomes ramping-vus starting from StartVUs (or 0).
//   - Iterations turn the scenario into per-vu-iterations, with VUs (or
//     the scenario's peak VUs) each running Iterations iterations.
//   - VUs and Duration set the fields of constant-vus and per-vu-iterations
//     (Duration is the maxDuration there). A ramping scenario becomes
//     constant-vus, keeping its peak VUs or total duration for the field
//     not given.
type Overrides struct {
	VUs        int
	Duration   time.Duration
	Stages     []config.StageConfig
	Iterations int64

	// ThinkTimeScale multiplies script sleeps; nil keeps them as written.
	ThinkTimeScale *float64
}

func (o Overrides) changesScenario() bool {
	return o.VUs > 0 || o.Duration > 0 || len(o.Stages) > 0 || o.Iterations > 0
}

// ParseStages parses a stage list such as "30s:10,1m:0". Each entry is
// duration:target.
func ParseStages(s string) ([]config.StageConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var stages []config.StageConfig
	for i, part := range strings.Split(s, ",") {
		durStr, targetStr, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return nil, fmt.Errorf("stage %d %q: expected duration:target", i+1, part)
		}
		d, err := config.ParseDurationString(durStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage %d: duration must be positive", i+1)
		}
		target, err := strconv.ParseFloat(strings.TrimSpace(targetStr), 64)
		if err != nil || target < 0 {
			return nil, fmt.Errorf("stage %d: invalid target %q", i+1, targetStr)
		}
		stages = append(stages, config.StageConfig{Duration: config.Duration(d), Target: target})
	}
	return stages, nil
}

// Build turns a script and a run configuration into engine options.
//
// The config's scenarios replace the script's defaults as a whole (its
// authScenarios first, for scripts that use them), and so do its
// thresholds. Overrides then apply to the first scenario by name.
func Build(s *Script, cfg *config.TestConfig, ov Overrides, logger *zap.Logger) (engine.Options, error) {
	if s == nil {
		return engine.Options{}, errors.New("no script")
	}
	if cfg == nil {
		return engine.Options{}, errors.New("no run configuration")
	}
	if cfg.BaseURL == "" {
		return engine.Options{}, errors.New("baseUrl is required")
	}
	if s.NeedsUsers && len(cfg.Users) == 0 {
		return engine.Options{}, fmt.Errorf("script %s needs at least one user in the config", s.Name)
	}

	scenarios := s.scenariosFor(cfg)
	if len(scenarios) == 0 {
		return engine.Options{}, fmt.Errorf("script %s has no scenarios", s.Name)
	}
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	if ov.changesScenario() {
		if err := applyOverrides(names[0], scenarios[names[0]], ov); err != nil {
			return engine.Options{}, err
		}
	}

	errs := &config.ValidationErrors{}
	for _, name := range names {
		if sc := scenarios[name]; sc != nil {
			sc.ApplyDefaults()
		}
		config.ValidateScenario("scenarios."+name, scenarios[name], errs)
	}
	if errs.HasErrors() {
		return engine.Options{}, errs
	}

	opts := engine.Options{
		Name:       s.Name,
		BaseURL:    cfg.BaseURL,
		Users:      cfg.Users,
		Env:        map[string]string{},
		Thresholds: cfg.Definitions(),
		Settings:   cfg.Settings,
		Metrics:    s.Metrics,
		Logger:     logger,
	}
	if len(opts.Thresholds) == 0 {
		opts.Thresholds = s.DefaultThresholds()
	}
	if ov.ThinkTimeScale != nil {
		opts.Env[EnvThinkTimeScale] = strconv.FormatFloat(*ov.ThinkTimeScale, 'g', -1, 64)
	}

	for _, name := range names {
		ec, err := executor.ConfigFromScenario(name, scenarios[name])
		if err != nil {
			return engine.Options{}, err
		}
		opts.Scenarios = append(opts.Scenarios, engine.Scenario{Executor: ec, Exec: s.Exec})
	}
	return opts, nil
}

// ThresholdsFor returns the thresholds a run of s with cfg evaluates.
func (s *Script) ThresholdsFor(cfg *config.TestConfig) map[string][]threshold.Definition {
	if cfg != nil && len(cfg.Thresholds) > 0 {
		return cfg.Definitions()
	}
	return s.DefaultThresholds()
}

func (s *Script) scenariosFor(cfg *config.TestConfig) map[string]*config.ScenarioConfig {
	if s.UsesAuthScenarios && len(cfg.AuthScenarios) > 0 {
		return cloneScenarios(cfg.AuthScenarios)
	}
	if len(cfg.Scenarios) > 0 {
		return cloneScenarios(cfg.Scenarios)
	}
	return s.DefaultScenarios()
}

func applyOverrides(name string, sc *config.ScenarioConfig, ov Overrides) error {
	if sc == nil {
		return fmt.Errorf("scenario %s: empty scenario", name)
	}
	peakVUs, total, err := scenarioShape(name, sc)
	if err != nil {
		return err
	}

	switch {
	case len(ov.Stages) > 0:
		switch sc.Executor {
		case string(executor.TypeRampingVUs), string(executor.TypeRampingArrivalRate):
		default:
			*sc = config.ScenarioConfig{
				Executor:     string(executor.TypeRampingVUs),
				GracefulStop: sc.GracefulStop,
				StartTime:    sc.StartTime,
				Tags:         sc.Tags,
			}
		}
		sc.Stages = ov.Stages
		if ov.VUs > 0 && sc.Executor == string(executor.TypeRampingVUs) {
			sc.StartVUs = ov.VUs
		}

	case ov.Iterations > 0:
		vus := peakVUs
		if ov.VUs > 0 {
			vus = ov.VUs
		}
		*sc = config.ScenarioConfig{
			Executor:     string(executor.TypePerVUIterations),
			VUs:          vus,
			Iterations:   ov.Iterations,
			MaxDuration:  config.Duration(ov.Duration),
			GracefulStop: sc.GracefulStop,
			StartTime:    sc.StartTime,
			Tags:         sc.Tags,
		}

	default:
		switch sc.Executor {
		case string(executor.TypeConstantVUs), string(executor.TypePerVUIterations):
			if ov.VUs > 0 {
				sc.VUs = ov.VUs
			}
			if ov.Duration > 0 {
				if sc.Executor == string(executor.TypeConstantVUs) {
					sc.Duration = config.Duration(ov.Duration)
				} else {
					sc.MaxDuration = config.Duration(ov.Duration)
				}
			}
		default:
			vus, dur := peakVUs, total
			if ov.VUs > 0 {
				vus = ov.VUs
			}
			if ov.Duration > 0 {
				dur = ov.Duration
			}
			*sc = config.ScenarioConfig{
				Executor:     string(executor.TypeConstantVUs),
				VUs:          vus,
				Duration:     config.Duration(dur),
				GracefulStop: sc.GracefulStop,
				StartTime:    sc.StartTime,
				Tags:         sc.Tags,
			}
		}
	}
	return nil
}

// scenarioShape returns the peak VU count and total duration of sc.
func scenarioShape(name string, sc *config.ScenarioConfig) (int, time.Duration, error) {
	shaped := cloneScenario(sc)
	shaped.ApplyDefaults()
	ec, err := executor.ConfigFromScenario(name, shaped)
	if err != nil {
		return 0, 0, err
	}
	vus := ec.MaxVUs()
	if vus < 1 {
		vus = 1
	}
	return vus, ec.TotalDuration(), nil
}
