package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// RampingVUs ramps VU count up and down according to stages.
//
// The VU count starts at StartVUs and moves linearly towards each stage's
// target over the stage's duration, one VU at a time. The count at every
// stage boundary is exactly the stage target. VUs removed by a down-ramp
// are asked to stop and may finish their iteration within the graceful
// ramp-down period; the newest VUs are removed first.
//
// Use cases:
//   - Realistic traffic simulation (morning ramp-up, evening ramp-down)
//   - Finding the breaking point of a system
//   - Stress testing with gradual load increase
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from startVUs to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	base
	params RampingVUsParams
	steps  []step

	// Live VUs, oldest first
	live   []*rampSlot
	liveMu sync.Mutex

	liveVUs      atomic.Int32
	allocatedVUs atomic.Int32
	wg           sync.WaitGroup
}

// step is a change of the target VU count at an offset from the start.
type step struct {
	offset time.Duration
	vus    int
}

type rampSlot struct {
	vu     *performance.VirtualUser
	cancel context.CancelFunc
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(cfg *Config, params RampingVUsParams, logger *zap.Logger) *RampingVUs {
	return &RampingVUs{
		base:   newBase(cfg, logger),
		params: params,
		steps:  rampingSteps(params.StartVUs, params.Stages),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// rampingSteps precomputes every change of the VU count.
//
// Within a stage going from a to b over d, the count a+i (or a-i) takes
// effect at stageStart + d*i/|b-a|, rounded down to the nanosecond. The
// last change of a stage therefore lands exactly on the stage end.
func rampingSteps(startVUs int, stages []Stage) []step {
	steps := []step{{offset: 0, vus: startVUs}}

	cur := startVUs
	var at time.Duration
	for _, s := range stages {
		target := int(s.Target)
		diff := target - cur
		switch {
		case s.Duration == 0:
			if diff != 0 {
				steps = append(steps, step{offset: at, vus: target})
			}
		case diff != 0:
			n := diff
			sign := 1
			if n < 0 {
				n, sign = -n, -1
			}
			q, r := s.Duration/time.Duration(n), s.Duration%time.Duration(n)
			for i := 1; i <= n; i++ {
				off := q*time.Duration(i) + r*time.Duration(i)/time.Duration(n)
				steps = append(steps, step{offset: at + off, vus: cur + sign*i})
			}
		}
		at += s.Duration
		cur = target
	}
	return steps
}

// vusAt returns the target VU count at offset t.
func vusAt(steps []step, t time.Duration) int {
	vus := 0
	for _, s := range steps {
		if s.offset > t {
			break
		}
		vus = s.vus
	}
	return vus
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler) error {
	hardCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	start := e.markStarted()
	defer e.running.Store(false)

	e.logger.Info("executor started",
		zap.Int("startVUs", e.params.StartVUs),
		zap.Int("stages", len(e.params.Stages)),
		zap.Duration("duration", e.config.TotalDuration()),
	)

	e.adjustVUs(hardCtx, scheduler, e.steps[0].vus)
	for _, s := range e.steps[1:] {
		if !e.waitUntil(ctx, start.Add(s.offset)) {
			break
		}
		e.adjustVUs(hardCtx, scheduler, s.vus)
	}
	e.waitUntil(ctx, start.Add(e.config.TotalDuration()))

	e.liveMu.Lock()
	e.live = nil
	e.liveVUs.Store(0)
	e.liveMu.Unlock()

	scheduler.StopAllVUs()
	e.gracefulWait(&e.wg, hardCancel)

	e.logger.Info("executor finished",
		zap.Int("spawned_vus", scheduler.SpawnedVUs()),
		zap.Int64("iterations", e.iterations.Load()),
		zap.Int64("interrupted", e.interrupted.Load()),
	)
	return nil
}

// adjustVUs spawns or retires VUs until target VUs are live.
func (e *RampingVUs) adjustVUs(ctx context.Context, scheduler *performance.VUScheduler, target int) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()

	for len(e.live) < target {
		vuCtx, cancel := context.WithCancel(ctx)
		slot := &rampSlot{vu: scheduler.SpawnVU(), cancel: cancel}
		e.live = append(e.live, slot)

		e.allocatedVUs.Add(1)
		e.wg.Add(1)
		go e.runVU(vuCtx, scheduler, slot)
	}

	rampDown := e.params.GracefulRampDown
	if rampDown == 0 {
		rampDown = e.config.gracefulStop()
	}
	for len(e.live) > target {
		slot := e.live[len(e.live)-1]
		e.live = e.live[:len(e.live)-1]

		slot.vu.RequestStop()
		time.AfterFunc(rampDown, slot.cancel)
	}

	e.liveVUs.Store(int32(len(e.live)))
}

func (e *RampingVUs) runVU(ctx context.Context, scheduler *performance.VUScheduler, slot *rampSlot) {
	defer e.wg.Done()
	defer slot.cancel()
	e.vuLoop(ctx, slot.vu, 0, func(int64) { e.allocatedVUs.Add(-1) })
	scheduler.RemoveVU(slot.vu.ID)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetActiveVUs returns the number of live VUs, excluding VUs draining
// after a down-ramp.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.liveVUs.Load())
}

// GetAllocatedVUs returns the number of VU goroutines still running.
func (e *RampingVUs) GetAllocatedVUs() int {
	return int(e.allocatedVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	elapsed := e.elapsed()

	stageIdx := len(e.params.Stages) - 1
	var end time.Duration
	for i, s := range e.params.Stages {
		end += s.Duration
		if elapsed < end {
			stageIdx = i
			break
		}
	}
	stageName := ""
	if stageIdx >= 0 {
		stageName = e.params.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:             e.started(),
		CurrentTime:           time.Now(),
		Elapsed:               elapsed,
		TotalDuration:         e.config.TotalDuration(),
		ActiveVUs:             e.GetActiveVUs(),
		AllocatedVUs:          e.GetAllocatedVUs(),
		TargetVUs:             vusAt(e.steps, elapsed),
		Iterations:            e.iterations.Load(),
		InterruptedIterations: e.interrupted.Load(),
		CurrentStage:          stageIdx,
		CurrentStageName:      stageName,
		TotalStages:           len(e.params.Stages),
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
