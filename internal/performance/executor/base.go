package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
)

// base holds what every executor shares: config, lifecycle flags, the
// early-stop signal and the iteration counters.
type base struct {
	config *Config
	logger *zap.Logger

	startMu   sync.RWMutex
	startTime time.Time
	running   atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once

	iterations  atomic.Int64
	interrupted atomic.Int64
}

func newBase(cfg *Config, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		config: cfg,
		logger: logger.With(zap.String("scenario", cfg.Name), zap.String("executor", string(cfg.Type()))),
		stopCh: make(chan struct{}),
	}
}

// Config returns the executor configuration.
func (b *base) Config() *Config {
	return b.config
}

// Stop ends the executor early and gracefully.
func (b *base) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *base) markStarted() time.Time {
	now := time.Now()
	b.startMu.Lock()
	b.startTime = now
	b.startMu.Unlock()
	b.running.Store(true)
	return now
}

func (b *base) started() time.Time {
	b.startMu.RLock()
	defer b.startMu.RUnlock()
	return b.startTime
}

func (b *base) elapsed() time.Duration {
	start := b.started()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// timeProgress returns elapsed/total, 1 once the executor has finished.
func (b *base) timeProgress() float64 {
	if !b.running.Load() {
		if b.started().IsZero() {
			return 0.0
		}
		return 1.0
	}

	total := b.config.TotalDuration()
	if total == 0 {
		return 1.0
	}
	progress := float64(b.elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// waitUntil sleeps until deadline. It returns false if the executor was
// stopped or ctx was cancelled first.
func (b *base) waitUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-b.stopCh:
			return false
		default:
			return ctx.Err() == nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-b.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// gracefulWait waits for wg for up to the graceful stop period, then
// interrupts whatever is still running through hardCancel and waits again.
func (b *base) gracefulWait(wg *sync.WaitGroup, hardCancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	graceful := b.config.gracefulStop()
	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		b.logger.Warn("graceful stop expired, interrupting iterations", zap.Duration("gracefulStop", graceful))
		hardCancel()
		<-done
	}
}

// vuLoop drives a VU of a closed-model executor: it runs iterations back to
// back until the VU is asked to stop, ctx ends or budget iterations ran
// (budget <= 0 means no limit). Pacing is applied between iterations.
func (b *base) vuLoop(ctx context.Context, vu *performance.VirtualUser, budget int64, done func(int64)) {
	var completed int64
	defer func() {
		vu.MarkStopped()
		if done != nil {
			done(completed)
		}
	}()

	for budget <= 0 || completed < budget {
		if vu.IsStopping() || ctx.Err() != nil {
			return
		}

		err := vu.RunIteration(ctx)
		if errors.Is(err, performance.ErrVUStopped) {
			return
		}
		if ctx.Err() != nil {
			b.interrupted.Add(1)
			return
		}

		completed++
		b.iterations.Add(1)

		if budget > 0 && completed >= budget {
			return
		}
		if !b.pace(ctx, vu) {
			return
		}
	}
}

// pace waits between iterations according to the pacing config. It
// returns false if the VU was asked to stop or ctx ended while waiting.
func (b *base) pace(ctx context.Context, vu *performance.VirtualUser) bool {
	p := b.config.Pacing
	if p == nil {
		return true
	}

	var wait time.Duration
	switch p.Type {
	case PacingConstant:
		wait = p.Duration
	case PacingRandom:
		wait = performance.RandomDuration(vu.Rand(), p.Min, p.Max)
	}
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.StopCh():
		return false
	case <-timer.C:
		return true
	}
}
