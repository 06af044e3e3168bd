package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// PerVUIterations runs a fixed number of iterations on each of a fixed
// number of VUs.
//
// The executor ends when every VU has run its iterations, or when
// MaxDuration elapses, whichever comes first. Reaching the iteration count
// is not a cancellation: each VU simply stops after its last iteration.
//
// Use cases:
//   - Functional smoke runs with a known amount of work
//   - Reproducible comparisons between builds
type PerVUIterations struct {
	base
	params PerVUIterationsParams

	activeVUs atomic.Int32
	wg        sync.WaitGroup
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations(cfg *Config, params PerVUIterationsParams, logger *zap.Logger) *PerVUIterations {
	return &PerVUIterations{
		base:   newBase(cfg, logger),
		params: params,
	}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *performance.VUScheduler) error {
	hardCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	start := e.markStarted()
	defer e.running.Store(false)

	maxDuration := e.config.TotalDuration()
	e.logger.Info("executor started",
		zap.Int("vus", e.params.VUs),
		zap.Int64("iterations", e.params.Iterations),
		zap.Duration("maxDuration", maxDuration),
	)

	vus := make([]*performance.VirtualUser, e.params.VUs)
	for i := range vus {
		vus[i] = scheduler.SpawnVU()
	}
	e.activeVUs.Store(int32(len(vus)))
	for _, vu := range vus {
		e.wg.Add(1)
		go e.runVU(hardCtx, vu)
	}

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	timer := time.NewTimer(time.Until(start.Add(maxDuration)))
	defer timer.Stop()

	select {
	case <-finished:
	case <-timer.C:
		e.logger.Warn("maxDuration reached before all iterations finished", zap.Duration("maxDuration", maxDuration))
	case <-e.stopCh:
	case <-ctx.Done():
	}

	scheduler.StopAllVUs()
	e.gracefulWait(&e.wg, hardCancel)

	e.logger.Info("executor finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Int64("interrupted", e.interrupted.Load()),
	)
	return nil
}

func (e *PerVUIterations) runVU(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()
	e.vuLoop(ctx, vu, e.params.Iterations, func(int64) { e.activeVUs.Add(-1) })
}

// GetProgress returns the fraction of iterations completed.
func (e *PerVUIterations) GetProgress() float64 {
	if !e.running.Load() {
		if e.started().IsZero() {
			return 0.0
		}
		return 1.0
	}
	total := e.totalIterations()
	if total == 0 {
		return 1.0
	}
	progress := float64(e.iterations.Load()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

func (e *PerVUIterations) totalIterations() int64 {
	return int64(e.params.VUs) * e.params.Iterations
}

// GetActiveVUs returns the number of VUs that still have iterations to run.
func (e *PerVUIterations) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetAllocatedVUs returns the number of VU goroutines still running.
func (e *PerVUIterations) GetAllocatedVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	return &Stats{
		StartTime:             e.started(),
		CurrentTime:           time.Now(),
		Elapsed:               e.elapsed(),
		TotalDuration:         e.config.TotalDuration(),
		ActiveVUs:             e.GetActiveVUs(),
		AllocatedVUs:          e.GetAllocatedVUs(),
		TargetVUs:             e.params.VUs,
		Iterations:            e.iterations.Load(),
		InterruptedIterations: e.interrupted.Load(),
		TotalIterations:       e.totalIterations(),
	}
}

// Ensure PerVUIterations implements Executor
var _ Executor = (*PerVUIterations)(nil)
