// Package performance provides the virtual-user runtime of the load engine.
//
// A VirtualUser repeatedly runs an IterationFunc. Executors decide how many
// VUs exist and when they iterate; the VU only knows how to run a single
// iteration and record its outcome.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// ErrSkipIteration may be returned by an IterationFunc to end the current
// iteration early without it being counted as an error.
var ErrSkipIteration = errors.New("iteration skipped")

// ErrVUStopped is returned by RunIteration once the VU has been asked to stop.
var ErrVUStopped = errors.New("virtual user stopped")

// IterationFunc is the body of a scenario, run once per VU iteration.
//
// It must not mutate state shared between VUs other than through the
// metrics and HTTP layers; per-VU state lives in the VUContext.
type IterationFunc func(ctx context.Context, vu *VUContext) error

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VUOptions holds the dependencies of a VirtualUser.
type VUOptions struct {
	// Scenario is the name of the scenario the VU belongs to
	Scenario string

	// Exec is the iteration body
	Exec IterationFunc

	// Client issues the VU's requests; it should already carry the VU tags
	Client *http.Client

	// Registry gives scripts access to custom metrics
	Registry *metrics.Registry

	// Metrics receives iteration and check samples
	Metrics *metrics.BuiltinMetrics

	// Shared is read-only run data (base URL, user pool)
	Shared *SharedData

	// Rand is the VU's private random source
	Rand *rand.Rand

	// Tags are attached to every sample the VU records
	Tags metrics.Tags

	Logger *zap.Logger
}

// VirtualUser represents a single simulated user executing test iterations.
//
// Each VU has its own:
//   - tagged HTTP client (sharing the run's connection pool)
//   - random source
//   - variable scope persisted across iterations (e.g. an auth token)
//   - iteration counter
//
// A VU is owned by the executor that spawned it and is driven from a single
// goroutine; iterations of one VU never overlap.
type VirtualUser struct {
	// Unique identifier for this VU within its scenario
	ID int

	// Scenario name
	Scenario string

	exec     IterationFunc
	client   *http.Client
	registry *metrics.Registry
	metrics  *metrics.BuiltinMetrics
	shared   *SharedData
	rand     *rand.Rand
	tags     metrics.Tags
	logger   *zap.Logger

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Stop signal
	stopCh chan struct{}

	// Done signal (closed when VU fully stops)
	doneCh   chan struct{}
	doneOnce sync.Once

	// Iteration counter
	iteration atomic.Int64

	// Per-VU variable scope
	data   map[string]interface{}
	dataMu sync.RWMutex
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, opts VUOptions) *VirtualUser {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))) //nolint:gosec // load generation, not crypto
	}
	shared := opts.Shared
	if shared == nil {
		shared = &SharedData{}
	}
	tags := opts.Tags.Clone()
	if opts.Scenario != "" {
		tags["scenario"] = opts.Scenario
	}

	return &VirtualUser{
		ID:       id,
		Scenario: opts.Scenario,
		exec:     opts.Exec,
		client:   opts.Client,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		shared:   shared,
		rand:     rnd,
		tags:     tags,
		logger:   logger.With(zap.String("scenario", opts.Scenario), zap.Int("vu", id)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		data:     make(map[string]interface{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// IsStopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) IsStopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's random source. It must only be used from the VU's
// goroutine.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rand
}

// StopCh is closed when the VU is asked to stop.
func (vu *VirtualUser) StopCh() <-chan struct{} {
	return vu.stopCh
}

// RunIteration executes a single iteration of the scenario.
//
// Failures inside the iteration (failed requests, failed checks, errors and
// panics from the iteration body) are recorded as metrics and do not end
// the VU. The returned error is the iteration's error, ErrVUStopped if the
// VU was already stopping, or ctx.Err() if the iteration was interrupted.
// Interrupted iterations are not counted in the iterations metric.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return ErrVUStopped
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	idx := vu.iteration.Add(1) - 1
	start := time.Now()

	err := vu.safeExec(ctx, &VUContext{vu: vu, iteration: idx})
	duration := time.Since(start)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if vu.metrics != nil {
		vu.metrics.Iterations.Add(1, vu.tags)
		vu.metrics.IterationDuration.AddDuration(duration, vu.tags)
	}

	if err != nil && !errors.Is(err, ErrSkipIteration) {
		if vu.metrics != nil {
			vu.metrics.IterationErrors.Add(1, vu.tags)
		}
		vu.logger.Debug("iteration failed",
			zap.Int64("iteration", idx),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}

	return err
}

// safeExec runs the iteration body, turning panics into errors.
func (vu *VirtualUser) safeExec(ctx context.Context, vc *VUContext) (err error) {
	if vu.exec == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()
	return vu.exec(ctx, vc)
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called when the goroutine driving the VU exits.
func (vu *VirtualUser) MarkStopped() {
	if old := VUState(vu.state.Swap(int32(VUStateStopped))); old == VUStateIdle || old == VUStateRunning {
		close(vu.stopCh)
	}
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key string, value interface{}) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (interface{}, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// ClearData removes a value from the VU's variable scope.
func (vu *VirtualUser) ClearData(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}
