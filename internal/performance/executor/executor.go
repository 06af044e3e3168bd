// Package executor provides load generation strategies for performance testing.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps iteration rate up and down.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"
)

const (
	// DefaultGracefulStop is how long in-flight iterations may run after a
	// scenario ends before they are interrupted.
	DefaultGracefulStop = 30 * time.Second

	// DefaultMaxDuration bounds per-vu-iterations scenarios.
	DefaultMaxDuration = 10 * time.Minute
)

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated - whether by managing a pool
// of virtual users or by controlling iteration rates. They carry no
// business logic: every iteration runs the scenario's IterationFunc.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Config returns the executor configuration.
	Config() *Config

	// Run starts the executor and blocks until completion.
	//
	// Cancelling ctx interrupts in-flight iterations. A normal end (deadline
	// reached, iterations exhausted, Stop called) lets in-flight iterations
	// finish within the graceful stop period.
	Run(ctx context.Context, scheduler *performance.VUScheduler) error

	// Stop ends the executor early and gracefully.
	Stop()

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns the number of VUs currently doing work.
	GetActiveVUs() int

	// GetAllocatedVUs returns the number of VUs initialized by the executor
	// that have not exited.
	GetAllocatedVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats
}

// Params is the executor-specific part of a Config. It is implemented only
// by the parameter records of this package.
type Params interface {
	// Type returns the executor kind the parameters belong to.
	Type() Type

	validate() error
	totalDuration() time.Duration
	maxVUs() int
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string

	// Params selects the executor kind and holds its parameters
	Params Params

	// GracefulStop is the time in-flight iterations get after the end
	GracefulStop time.Duration

	// StartTime delays the scenario relative to the start of the run
	StartTime time.Duration

	// Pacing between iterations of VU-based executors
	Pacing *PacingConfig

	// Tags are added to every sample of the scenario
	Tags metrics.Tags
}

// Type returns the executor type of the config.
func (c *Config) Type() Type {
	if c.Params == nil {
		return ""
	}
	return c.Params.Type()
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Params == nil {
		return &ValidationError{Field: "executor", Message: "executor parameters are required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.StartTime < 0 {
		return &ValidationError{Field: "startTime", Message: "startTime must be >= 0"}
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}
	return c.Params.validate()
}

// TotalDuration calculates the nominal duration of the executor, without
// start time or graceful stop. For per-vu-iterations it is maxDuration.
func (c *Config) TotalDuration() time.Duration {
	if c.Params == nil {
		return 0
	}
	return c.Params.totalDuration()
}

// MaxVUs returns the maximum number of VUs the executor may use.
func (c *Config) MaxVUs() int {
	if c.Params == nil {
		return 0
	}
	return c.Params.maxVUs()
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration

	// Target VU count (for ramping-vus) or rate (for ramping-arrival-rate)
	Target float64

	// Optional name for this stage (for reporting)
	Name string
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range stages {
		if s.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	return nil
}

func stagesDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// ConstantVUsParams configures constant-vus.
type ConstantVUsParams struct {
	VUs      int
	Duration time.Duration
}

// Type returns TypeConstantVUs.
func (ConstantVUsParams) Type() Type { return TypeConstantVUs }

func (p ConstantVUsParams) validate() error {
	if p.VUs <= 0 {
		return &ValidationError{Field: "vus", Message: "vus must be > 0"}
	}
	if p.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	return nil
}

func (p ConstantVUsParams) totalDuration() time.Duration { return p.Duration }
func (p ConstantVUsParams) maxVUs() int                  { return p.VUs }

// RampingVUsParams configures ramping-vus.
type RampingVUsParams struct {
	StartVUs int
	Stages   []Stage

	// GracefulRampDown is how long VUs removed by a down-ramp may finish
	// their iteration; zero means the graceful stop default
	GracefulRampDown time.Duration
}

// Type returns TypeRampingVUs.
func (RampingVUsParams) Type() Type { return TypeRampingVUs }

func (p RampingVUsParams) validate() error {
	if p.StartVUs < 0 {
		return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
	}
	if p.GracefulRampDown < 0 {
		return &ValidationError{Field: "gracefulRampDown", Message: "gracefulRampDown must be >= 0"}
	}
	if err := validateStages(p.Stages); err != nil {
		return err
	}
	for i, s := range p.Stages {
		if s.Target != math.Trunc(s.Target) {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be a whole number of VUs"}
		}
	}
	if stagesDuration(p.Stages) <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	return nil
}

func (p RampingVUsParams) totalDuration() time.Duration { return stagesDuration(p.Stages) }

func (p RampingVUsParams) maxVUs() int {
	n := p.StartVUs
	for _, s := range p.Stages {
		if t := int(s.Target); t > n {
			n = t
		}
	}
	return n
}

// DropPolicy decides what an arrival-rate executor does with an arrival
// when every VU is busy and the pool is at maxVUs.
type DropPolicy string

const (
	// DropPolicyDrop skips the arrival and counts it in dropped_iterations.
	DropPolicyDrop DropPolicy = "drop"

	// DropPolicyQueue waits for the next free VU.
	DropPolicyQueue DropPolicy = "queue"
)

// RampingArrivalRateParams configures ramping-arrival-rate.
type RampingArrivalRateParams struct {
	// StartRate is the rate at t=0, in iterations per TimeUnit
	StartRate float64

	// TimeUnit is the period rates are expressed in (1s when zero)
	TimeUnit time.Duration

	Stages          []Stage
	PreAllocatedVUs int
	MaxVUs          int
	DropPolicy      DropPolicy
}

// Type returns TypeRampingArrivalRate.
func (RampingArrivalRateParams) Type() Type { return TypeRampingArrivalRate }

func (p RampingArrivalRateParams) validate() error {
	if p.StartRate < 0 {
		return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
	}
	if err := validateStages(p.Stages); err != nil {
		return err
	}
	if stagesDuration(p.Stages) <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	return validatePool(p.TimeUnit, p.PreAllocatedVUs, p.MaxVUs, p.DropPolicy)
}

func (p RampingArrivalRateParams) totalDuration() time.Duration { return stagesDuration(p.Stages) }
func (p RampingArrivalRateParams) maxVUs() int                  { return poolMax(p.PreAllocatedVUs, p.MaxVUs) }

func (p RampingArrivalRateParams) profile() arrivalProfile {
	prof := arrivalProfile{
		startRate: p.StartRate,
		timeUnit:  p.TimeUnit,
		stages:    make([]rate.Stage, len(p.Stages)),
		names:     make([]string, len(p.Stages)),
		pre:       p.PreAllocatedVUs,
		max:       p.MaxVUs,
		policy:    p.DropPolicy,
	}
	for i, s := range p.Stages {
		prof.stages[i] = rate.Stage{Duration: s.Duration, Target: s.Target}
		prof.names[i] = s.Name
	}
	return prof
}

// ConstantArrivalRateParams configures constant-arrival-rate.
type ConstantArrivalRateParams struct {
	// Rate in iterations per TimeUnit
	Rate            float64
	TimeUnit        time.Duration
	Duration        time.Duration
	PreAllocatedVUs int
	MaxVUs          int
	DropPolicy      DropPolicy
}

// Type returns TypeConstantArrivalRate.
func (ConstantArrivalRateParams) Type() Type { return TypeConstantArrivalRate }

func (p ConstantArrivalRateParams) validate() error {
	if p.Rate <= 0 {
		return &ValidationError{Field: "rate", Message: "rate must be > 0"}
	}
	if p.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	return validatePool(p.TimeUnit, p.PreAllocatedVUs, p.MaxVUs, p.DropPolicy)
}

func (p ConstantArrivalRateParams) totalDuration() time.Duration { return p.Duration }
func (p ConstantArrivalRateParams) maxVUs() int                  { return poolMax(p.PreAllocatedVUs, p.MaxVUs) }

// profile returns the arrival profile of a flat rate.
func (p ConstantArrivalRateParams) profile() arrivalProfile {
	return arrivalProfile{
		startRate: p.Rate,
		timeUnit:  p.TimeUnit,
		stages:    []rate.Stage{{Duration: p.Duration, Target: p.Rate}},
		names:     []string{""},
		pre:       p.PreAllocatedVUs,
		max:       p.MaxVUs,
		policy:    p.DropPolicy,
	}
}

func validatePool(timeUnit time.Duration, pre, max int, policy DropPolicy) error {
	if timeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}
	if pre < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if max < 0 {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= 0"}
	}
	if max > 0 && max < pre {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	if pre == 0 && max == 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs or maxVUs must be > 0"}
	}
	switch policy {
	case "", DropPolicyDrop, DropPolicyQueue:
	default:
		return &ValidationError{Field: "dropPolicy", Message: "dropPolicy must be drop or queue"}
	}
	return nil
}

func poolMax(pre, max int) int {
	if max < pre {
		return pre
	}
	return max
}

// PerVUIterationsParams configures per-vu-iterations.
type PerVUIterationsParams struct {
	VUs        int
	Iterations int64

	// MaxDuration bounds the scenario (DefaultMaxDuration when zero)
	MaxDuration time.Duration
}

// Type returns TypePerVUIterations.
func (PerVUIterationsParams) Type() Type { return TypePerVUIterations }

func (p PerVUIterationsParams) validate() error {
	if p.VUs <= 0 {
		return &ValidationError{Field: "vus", Message: "vus must be > 0"}
	}
	if p.Iterations <= 0 {
		return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
	}
	if p.MaxDuration < 0 {
		return &ValidationError{Field: "maxDuration", Message: "maxDuration must be >= 0"}
	}
	return nil
}

func (p PerVUIterationsParams) totalDuration() time.Duration {
	if p.MaxDuration == 0 {
		return DefaultMaxDuration
	}
	return p.MaxDuration
}

func (p PerVUIterationsParams) maxVUs() int { return p.VUs }

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType

	// Duration for constant pacing
	Duration time.Duration

	// Min duration for random pacing
	Min time.Duration

	// Max duration for random pacing
	Max time.Duration
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

func (p *PacingConfig) validate() error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pacing.duration", Message: "duration must be >= 0"}
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return &ValidationError{Field: "pacing", Message: "random pacing needs 0 <= min <= max"}
		}
	default:
		return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
	}
	return nil
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs    int `json:"activeVUs"`
	AllocatedVUs int `json:"allocatedVUs"`
	TargetVUs    int `json:"targetVUs"`

	// Iteration stats
	Iterations            int64 `json:"iterations"`
	InterruptedIterations int64 `json:"interruptedIterations"`
	DroppedIterations     int64 `json:"droppedIterations"`
	TotalIterations       int64 `json:"totalIterations,omitempty"` // For per-vu-iterations

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages,omitempty"`

	// Rate info (for arrival-rate executors)
	CurrentRate float64 `json:"currentRate,omitempty"`
	TargetRate  float64 `json:"targetRate,omitempty"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
