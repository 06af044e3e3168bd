package executor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// New validates cfg and creates the executor its parameters select.
func New(cfg *Config, logger *zap.Logger) (Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", cfg.Name, err)
	}

	switch p := cfg.Params.(type) {
	case ConstantVUsParams:
		return NewConstantVUs(cfg, p, logger), nil
	case RampingVUsParams:
		return NewRampingVUs(cfg, p, logger), nil
	case ConstantArrivalRateParams:
		return NewConstantArrivalRate(cfg, p, logger), nil
	case RampingArrivalRateParams:
		return NewRampingArrivalRate(cfg, p, logger), nil
	case PerVUIterationsParams:
		return NewPerVUIterations(cfg, p, logger), nil
	default:
		return nil, fmt.Errorf("scenario %s: unsupported executor parameters %T", cfg.Name, cfg.Params)
	}
}

// ConfigFromScenario converts a config.ScenarioConfig (from JSON/YAML) to
// an executor Config.
func ConfigFromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	if sc == nil {
		return nil, fmt.Errorf("scenario %s: empty scenario", name)
	}

	cfg := &Config{
		Name:         name,
		GracefulStop: time.Duration(sc.GracefulStop),
		StartTime:    time.Duration(sc.StartTime),
	}
	if len(sc.Tags) > 0 {
		cfg.Tags = metrics.Tags(sc.Tags).Clone()
	}

	stages := make([]Stage, 0, len(sc.Stages))
	for _, s := range sc.Stages {
		stages = append(stages, Stage{
			Duration: time.Duration(s.Duration),
			Target:   s.Target,
			Name:     s.Name,
		})
	}

	switch Type(sc.Executor) {
	case TypeConstantVUs:
		cfg.Params = ConstantVUsParams{VUs: sc.VUs, Duration: time.Duration(sc.Duration)}
	case TypeRampingVUs:
		cfg.Params = RampingVUsParams{
			StartVUs:         sc.StartVUs,
			Stages:           stages,
			GracefulRampDown: time.Duration(sc.GracefulRampDown),
		}
	case TypeConstantArrivalRate:
		cfg.Params = ConstantArrivalRateParams{
			Rate:            sc.Rate,
			TimeUnit:        time.Duration(sc.TimeUnit),
			Duration:        time.Duration(sc.Duration),
			PreAllocatedVUs: sc.PreAllocatedVUs,
			MaxVUs:          sc.MaxVUs,
			DropPolicy:      DropPolicy(sc.DropPolicy),
		}
	case TypeRampingArrivalRate:
		cfg.Params = RampingArrivalRateParams{
			StartRate:       sc.StartRate,
			TimeUnit:        time.Duration(sc.TimeUnit),
			Stages:          stages,
			PreAllocatedVUs: sc.PreAllocatedVUs,
			MaxVUs:          sc.MaxVUs,
			DropPolicy:      DropPolicy(sc.DropPolicy),
		}
	case TypePerVUIterations:
		cfg.Params = PerVUIterationsParams{
			VUs:         sc.VUs,
			Iterations:  sc.Iterations,
			MaxDuration: time.Duration(sc.MaxDuration),
		}
	default:
		return nil, fmt.Errorf("scenario %s: unknown executor type: %s", name, sc.Executor)
	}

	if sc.Pacing != nil {
		cfg.Pacing = &PacingConfig{
			Type:     PacingType(sc.Pacing.Type),
			Duration: time.Duration(sc.Pacing.Duration),
			Min:      time.Duration(sc.Pacing.Min),
			Max:      time.Duration(sc.Pacing.Max),
		}
	}

	return cfg, nil
}

// FromScenarioConfig creates an executor from a scenario config.
func FromScenarioConfig(name string, sc *config.ScenarioConfig, logger *zap.Logger) (Executor, error) {
	cfg, err := ConfigFromScenario(name, sc)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger)
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs, TypeConstantArrivalRate, TypeRampingArrivalRate, TypePerVUIterations:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
		TypePerVUIterations,
	}
}

// Description provides documentation for an executor type.
type Description struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

// GetDescription returns documentation for an executor type.
func GetDescription(executorType Type) *Description {
	switch executorType {
	case TypeConstantVUs:
		return &Description{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of VUs for a specified duration. Each VU runs as fast as it can (closed model).",
			UseCases: []string{
				"Basic load testing",
				"Determining max throughput for N concurrent users",
				"Endurance runs",
			},
		}
	case TypeRampingVUs:
		return &Description{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Ramps VU count up and down according to stages, one VU at a time. Stage boundaries hit the target exactly.",
			UseCases: []string{
				"Realistic traffic simulation (morning ramp-up, evening ramp-down)",
				"CRUD workloads with a warm-up",
				"Stress testing with gradual load increase",
			},
		}
	case TypeConstantArrivalRate:
		return &Description{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts iterations at a fixed rate regardless of response time. VUs are taken from a pool that grows up to maxVUs.",
			UseCases: []string{
				"SLA validation (e.g., system must handle 100 RPS)",
				"Capacity testing with predictable arrival patterns",
			},
		}
	case TypeRampingArrivalRate:
		return &Description{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Description: "Ramps the iteration rate up and down according to stages. Arrivals that find no free VU at maxVUs are dropped.",
			UseCases: []string{
				"Spike tests",
				"Finding the breaking point of a system",
				"Testing auto-scaling behavior",
			},
		}
	case TypePerVUIterations:
		return &Description{
			Type:        TypePerVUIterations,
			Name:        "Per-VU Iterations",
			Description: "Each VU runs an exact number of iterations. The scenario ends when all VUs finish or maxDuration elapses.",
			UseCases: []string{
				"Authentication flows with a fixed number of logins",
				"Smoke tests",
			},
		}
	default:
		return nil
	}
}
