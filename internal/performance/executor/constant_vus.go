package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// This is the simplest executor: spawn N VUs and let them run iterations
// until the duration expires. Each VU runs as fast as it can (closed model),
// optionally with pacing between iterations. At the deadline every VU is
// asked to stop and its current iteration is allowed to finish.
//
// Use cases:
//   - Basic load testing
//   - Determining max throughput for N concurrent users
//   - Simple soak testing
type ConstantVUs struct {
	base
	params ConstantVUsParams

	activeVUs atomic.Int32
	wg        sync.WaitGroup
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs(cfg *Config, params ConstantVUsParams, logger *zap.Logger) *ConstantVUs {
	return &ConstantVUs{
		base:   newBase(cfg, logger),
		params: params,
	}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *performance.VUScheduler) error {
	hardCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	start := e.markStarted()
	defer e.running.Store(false)

	e.logger.Info("executor started", zap.Int("vus", e.params.VUs), zap.Duration("duration", e.params.Duration))

	// All VUs are live before the clock starts
	vus := make([]*performance.VirtualUser, e.params.VUs)
	for i := range vus {
		vus[i] = scheduler.SpawnVU()
	}
	e.activeVUs.Store(int32(len(vus)))
	for _, vu := range vus {
		e.wg.Add(1)
		go e.runVU(hardCtx, vu)
	}

	e.waitUntil(ctx, start.Add(e.params.Duration))

	scheduler.StopAllVUs()
	e.gracefulWait(&e.wg, hardCancel)

	e.logger.Info("executor finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Int64("interrupted", e.interrupted.Load()),
	)
	return nil
}

// runVU runs a single VU until it is stopped or the context is cancelled.
func (e *ConstantVUs) runVU(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()
	e.vuLoop(ctx, vu, 0, func(int64) { e.activeVUs.Add(-1) })
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return e.timeProgress()
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetAllocatedVUs returns the number of VU goroutines still running.
func (e *ConstantVUs) GetAllocatedVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	return &Stats{
		StartTime:             e.started(),
		CurrentTime:           time.Now(),
		Elapsed:               e.elapsed(),
		TotalDuration:         e.params.Duration,
		ActiveVUs:             e.GetActiveVUs(),
		AllocatedVUs:          e.GetAllocatedVUs(),
		TargetVUs:             e.params.VUs,
		Iterations:            e.iterations.Load(),
		InterruptedIterations: e.interrupted.Load(),
	}
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
