package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/rate"
)

// arrivalProfile is the common shape of the arrival-rate executors.
type arrivalProfile struct {
	startRate float64
	timeUnit  time.Duration
	stages    []rate.Stage
	names     []string
	pre       int
	max       int
	policy    DropPolicy
}

// RampingArrivalRate ramps iteration rate up and down according to stages.
//
// This is an open-model executor: iterations start on a precomputed
// schedule regardless of how long earlier iterations take. The rate starts
// at StartRate and moves linearly to each stage's target.
//
// Each arrival takes an idle VU from the pool. When none is idle a new VU is
// initialized, up to MaxVUs. Beyond that the arrival is dropped and counted
// in the dropped_iterations metric, or, with DropPolicyQueue, waits for the
// next VU to free up.
//
// Use cases:
//   - Simulating realistic traffic patterns (gradual load increase)
//   - Finding the breaking point of a system
//   - Testing auto-scaling behavior
//
// Example:
//
//	config:
//	  executor: ramping-arrival-rate
//	  startRate: 10
//	  stages:
//	    - duration: 1m
//	      target: 50           # Ramp from 10 to 50 iterations/s over 1 minute
//	    - duration: 3m
//	      target: 50           # Hold 50 iterations/s for 3 minutes
//	    - duration: 1m
//	      target: 0            # Ramp down to 0
//	  preAllocatedVUs: 10
//	  maxVUs: 100
type RampingArrivalRate struct {
	base
	typ      Type
	profile  arrivalProfile
	schedule *rate.Schedule

	// VU pool management
	vuPool   chan *performance.VirtualUser // Idle VUs ready to execute
	allVUs   []*performance.VirtualUser    // All VUs (for cleanup)
	vuPoolMu sync.Mutex

	allocatedVUs atomic.Int32
	busyVUs      atomic.Int32
	dropped      atomic.Int64
	wg           sync.WaitGroup
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate(cfg *Config, params RampingArrivalRateParams, logger *zap.Logger) *RampingArrivalRate {
	return newArrivalRate(cfg, TypeRampingArrivalRate, params.profile(), logger)
}

func newArrivalRate(cfg *Config, typ Type, p arrivalProfile, logger *zap.Logger) *RampingArrivalRate {
	if p.pre == 0 {
		// always start with one VU ready
		p.pre = 1
	}
	if p.max < p.pre {
		p.max = p.pre
	}
	if p.policy == "" {
		p.policy = DropPolicyDrop
	}
	return &RampingArrivalRate{
		base:     newBase(cfg, logger),
		typ:      typ,
		profile:  p,
		schedule: rate.NewSchedule(p.startRate, p.timeUnit, p.stages),
	}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return e.typ
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *performance.VUScheduler) error {
	hardCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	e.vuPool = make(chan *performance.VirtualUser, e.profile.max)
	e.allVUs = make([]*performance.VirtualUser, 0, e.profile.max)

	// Pre-allocate VUs
	for i := 0; i < e.profile.pre; i++ {
		e.vuPool <- e.spawn(scheduler)
	}

	start := e.markStarted()
	defer e.running.Store(false)

	e.logger.Info("executor started",
		zap.Int("preAllocatedVUs", e.profile.pre),
		zap.Int("maxVUs", e.profile.max),
		zap.Int64("scheduledIterations", e.schedule.Count()),
		zap.Duration("duration", e.schedule.Duration()),
	)

	it := e.schedule.Iterator()
	for {
		offset, ok := it.Next()
		if !ok {
			break
		}
		if !e.waitUntil(ctx, start.Add(offset)) {
			break
		}
		if !e.dispatch(ctx, hardCtx, scheduler) {
			break
		}
	}
	// the schedule may end before the last stage does
	e.waitUntil(ctx, start.Add(e.schedule.Duration()))

	e.gracefulWait(&e.wg, hardCancel)

	e.vuPoolMu.Lock()
	for _, vu := range e.allVUs {
		vu.MarkStopped()
	}
	e.vuPoolMu.Unlock()
	e.allocatedVUs.Store(0)

	if dropped := e.dropped.Load(); dropped > 0 {
		e.logger.Warn("iterations dropped: not enough VUs", zap.Int64("dropped", dropped), zap.Int("maxVUs", e.profile.max))
	}
	e.logger.Info("executor finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Int64("interrupted", e.interrupted.Load()),
		zap.Int64("dropped", e.dropped.Load()),
	)
	return nil
}

// dispatch starts one arrival. It returns false if the executor should stop
// scheduling.
func (e *RampingArrivalRate) dispatch(ctx, hardCtx context.Context, scheduler *performance.VUScheduler) bool {
	vu, ok := e.getVU(ctx, scheduler)
	if !ok {
		return false
	}
	if vu == nil {
		e.dropped.Add(1)
		if m := scheduler.Metrics(); m != nil {
			m.DroppedIterations.Add(1, scheduler.Tags())
		}
		return true
	}

	e.wg.Add(1)
	go e.runIteration(hardCtx, vu)
	return true
}

// getVU gets an idle VU from the pool, spawning a new one if needed. A nil
// VU means the arrival has to be dropped; ok is false when the executor
// was stopped while queueing.
func (e *RampingArrivalRate) getVU(ctx context.Context, scheduler *performance.VUScheduler) (*performance.VirtualUser, bool) {
	// Try to get from pool (non-blocking)
	select {
	case vu := <-e.vuPool:
		return vu, true
	default:
	}

	if int(e.allocatedVUs.Load()) < e.profile.max {
		return e.spawn(scheduler), true
	}

	if e.profile.policy == DropPolicyDrop {
		return nil, true
	}

	select {
	case <-ctx.Done():
		return nil, false
	case <-e.stopCh:
		return nil, false
	case vu := <-e.vuPool:
		return vu, true
	}
}

func (e *RampingArrivalRate) spawn(scheduler *performance.VUScheduler) *performance.VirtualUser {
	vu := scheduler.SpawnVU()

	e.vuPoolMu.Lock()
	e.allVUs = append(e.allVUs, vu)
	e.vuPoolMu.Unlock()

	e.allocatedVUs.Add(1)
	return vu
}

// runIteration runs a single iteration on a VU and returns it to the pool.
func (e *RampingArrivalRate) runIteration(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()

	e.busyVUs.Add(1)
	_ = vu.RunIteration(ctx)
	e.busyVUs.Add(-1)

	if ctx.Err() != nil {
		e.interrupted.Add(1)
		return
	}
	e.iterations.Add(1)

	// the pool holds every VU, so this never blocks
	e.vuPool <- vu
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	return e.timeProgress()
}

// GetActiveVUs returns the number of VUs running an iteration.
func (e *RampingArrivalRate) GetActiveVUs() int {
	return int(e.busyVUs.Load())
}

// GetAllocatedVUs returns the size of the VU pool.
func (e *RampingArrivalRate) GetAllocatedVUs() int {
	return int(e.allocatedVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	elapsed := e.elapsed()

	stageIdx := e.schedule.StageAt(elapsed)
	if stageIdx < 0 {
		stageIdx = len(e.profile.stages) - 1
	}
	stageName := ""
	targetRate := 0.0
	if stageIdx >= 0 && stageIdx < len(e.profile.stages) {
		stageName = e.profile.names[stageIdx]
		targetRate = e.perSecond(e.profile.stages[stageIdx].Target)
	}

	return &Stats{
		StartTime:             e.started(),
		CurrentTime:           time.Now(),
		Elapsed:               elapsed,
		TotalDuration:         e.schedule.Duration(),
		ActiveVUs:             e.GetActiveVUs(),
		AllocatedVUs:          e.GetAllocatedVUs(),
		TargetVUs:             e.profile.max,
		Iterations:            e.iterations.Load(),
		InterruptedIterations: e.interrupted.Load(),
		DroppedIterations:     e.dropped.Load(),
		CurrentStage:          stageIdx,
		CurrentStageName:      stageName,
		TotalStages:           len(e.profile.stages),
		CurrentRate:           e.schedule.RateAt(elapsed),
		TargetRate:            targetRate,
	}
}

// perSecond converts a rate per time unit to iterations per second.
func (e *RampingArrivalRate) perSecond(r float64) float64 {
	unit := e.profile.timeUnit
	if unit <= 0 {
		unit = time.Second
	}
	return r / unit.Seconds()
}

// Ensure RampingArrivalRate implements Executor
var _ Executor = (*RampingArrivalRate)(nil)
