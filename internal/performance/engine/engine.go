// Package engine provides the test run orchestrator.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

const (
	// DefaultAbortCheckInterval is how often abortOnFail thresholds are
	// evaluated during a run.
	DefaultAbortCheckInterval = 2 * time.Second

	// DefaultSampleInterval is how often the vus and vus_max gauges are
	// sampled.
	DefaultSampleInterval = time.Second
)

// Scenario binds a load profile to the iteration body its VUs run.
type Scenario struct {
	Executor *executor.Config
	Exec     performance.IterationFunc
}

// Options configure a test run.
type Options struct {
	// Name of the run, usually the script name
	Name string

	BaseURL string
	Users   []performance.User
	Env     map[string]string

	// Scenarios run concurrently, each offset by its StartTime
	Scenarios []Scenario

	Thresholds map[string][]threshold.Definition
	Settings   config.GlobalSettings

	// Metrics registers custom metrics. It runs before thresholds are
	// bound so thresholds may reference them.
	Metrics func(*metrics.Registry) error

	AbortCheckInterval time.Duration
	SampleInterval     time.Duration

	Logger *zap.Logger
}

// Engine is the test run orchestrator.
//
// It coordinates:
//   - Scenario execution with their respective executors
//   - The run's metrics registry and shared request client
//   - Threshold evaluation, including early aborts
//
// Example usage:
//
//	eng, _ := engine.New(opts)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
//
// An Engine runs once.
type Engine struct {
	opts   Options
	runID  string
	logger *zap.Logger

	registry   *metrics.Registry
	builtin    *metrics.BuiltinMetrics
	thresholds *threshold.Set
	client     *http.Client

	// Scenario runners, in configuration order
	scenarios []*ScenarioRunner

	mu        sync.RWMutex
	startTime time.Time
	running   bool
	finished  bool

	abortMu     sync.Mutex
	abortReason string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name      string
	Config    *executor.Config
	Executor  executor.Executor
	Scheduler *performance.VUScheduler
	Result    *ScenarioResult
}

// New validates opts and prepares a run. Every setup problem (invalid
// executor parameters, unknown threshold metrics, malformed threshold
// expressions) is reported here, before any VU exists.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios to run")
	}
	if opts.AbortCheckInterval <= 0 {
		opts.AbortCheckInterval = DefaultAbortCheckInterval
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}

	registry := metrics.NewRegistry()
	builtin := metrics.RegisterBuiltinMetrics(registry)
	if opts.Metrics != nil {
		if err := opts.Metrics(registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	thresholds, err := threshold.Bind(registry, opts.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	e := &Engine{
		opts:       opts,
		runID:      uuid.NewString(),
		logger:     logger.Named("engine"),
		registry:   registry,
		builtin:    builtin,
		thresholds: thresholds,
		stopCh:     make(chan struct{}),
	}
	e.client = e.newClient()

	if err := e.initializeScenarios(logger); err != nil {
		return nil, err
	}
	return e, nil
}

// newClient creates the request client shared by every VU of the run.
func (e *Engine) newClient() *http.Client {
	s := e.opts.Settings

	transport := http.DefaultTransportConfig()
	transport.Timeout = time.Duration(s.Timeout)
	if transport.Timeout <= 0 {
		transport.Timeout = config.DefaultTimeout
	}
	if s.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	transport.InsecureSkipVerify = s.InsecureSkipVerify

	options := []http.ClientOption{
		http.WithBaseURL(e.opts.BaseURL),
		http.WithHTTPClient(http.NewHTTPClient(transport)),
		http.WithMetrics(e.builtin),
		http.WithRateLimit(s.RPS),
	}
	if s.UserAgent != "" {
		options = append(options, http.WithUserAgent(s.UserAgent))
	}
	for k, v := range s.Headers {
		options = append(options, http.WithHeader(k, v))
	}
	return http.NewClient(options...)
}

// initializeScenarios creates executors and schedulers for all scenarios.
func (e *Engine) initializeScenarios(logger *zap.Logger) error {
	shared := &performance.SharedData{
		BaseURL: e.opts.BaseURL,
		Users:   e.opts.Users,
		Env:     e.opts.Env,
	}

	seen := make(map[string]bool, len(e.opts.Scenarios))
	for i, sc := range e.opts.Scenarios {
		if sc.Executor == nil {
			return fmt.Errorf("scenario %d: missing executor config", i)
		}
		name := sc.Executor.Name
		if name == "" {
			return fmt.Errorf("scenario %d: missing name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate scenario name: %s", name)
		}
		seen[name] = true
		if sc.Exec == nil {
			return fmt.Errorf("scenario %s: no iteration function", name)
		}

		exec, err := executor.New(sc.Executor, logger.Named("executor"))
		if err != nil {
			return fmt.Errorf("failed to create executor: %w", err)
		}

		scheduler := performance.NewVUScheduler(performance.SchedulerConfig{
			Scenario: name,
			Exec:     sc.Exec,
			Client:   e.client,
			Registry: e.registry,
			Metrics:  e.builtin,
			Shared:   shared,
			Seed:     e.opts.Settings.Seed,
			Tags:     sc.Executor.Tags,
			Logger:   logger.Named("vu"),
		})

		e.scenarios = append(e.scenarios, &ScenarioRunner{
			Name:      name,
			Config:    sc.Executor,
			Executor:  exec,
			Scheduler: scheduler,
		})
	}
	return nil
}

// RunID returns the unique id of the run.
func (e *Engine) RunID() string {
	return e.runID
}

// Registry returns the metrics registry of the run.
func (e *Engine) Registry() *metrics.Registry {
	return e.registry
}

// Metrics returns the builtin metrics of the run.
func (e *Engine) Metrics() *metrics.BuiltinMetrics {
	return e.builtin
}

// Thresholds returns the bound thresholds of the run.
func (e *Engine) Thresholds() *threshold.Set {
	return e.thresholds
}

// Run executes all scenarios and returns the test results.
//
// Scenarios run concurrently. Cancelling ctx interrupts in-flight
// iterations; Stop ends the run gracefully. In both cases the result still
// covers everything recorded so far and thresholds are evaluated.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.finished {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.finished = true
		e.mu.Unlock()
	}()

	e.logger.Info("starting test run",
		zap.String("run_id", e.runID),
		zap.String("name", e.opts.Name),
		zap.Int("scenarios", len(e.scenarios)),
		zap.Int("thresholds", e.thresholds.Len()),
	)

	bgDone := make(chan struct{})
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		e.sampleVUs(bgDone)
	}()
	if e.thresholds.HasAbortOnFail() {
		bg.Add(1)
		go func() {
			defer bg.Done()
			e.watchThresholds(bgDone)
		}()
	}

	runErr := e.runScenariosConcurrently(ctx)

	close(bgDone)
	bg.Wait()
	e.recordVUs()

	endTime := time.Now()
	elapsed := endTime.Sub(e.startTime)

	for _, runner := range e.scenarios {
		runner.Scheduler.Close()
	}
	e.client.CloseIdleConnections()

	results := e.thresholds.Evaluate(elapsed)
	reason := e.AbortReason()

	scenarios := make([]*ScenarioResult, 0, len(e.scenarios))
	for _, runner := range e.scenarios {
		scenarios = append(scenarios, runner.Result)
	}

	result := &TestResult{
		RunID:       e.runID,
		Name:        e.opts.Name,
		StartTime:   e.startTime,
		EndTime:     endTime,
		Duration:    elapsed,
		Scenarios:   scenarios,
		Summary:     summarize(e.builtin, scenarios, elapsed),
		Metrics:     snapshotMetrics(e.registry, elapsed),
		Thresholds:  results,
		Passed:      threshold.AllPassed(results) && reason == "",
		Aborted:     reason != "",
		AbortReason: reason,
		Interrupted: ctx.Err() != nil,
	}

	e.logger.Info("test run finished",
		zap.String("run_id", e.runID),
		zap.Duration("duration", elapsed),
		zap.Int64("iterations", result.Summary.Iterations),
		zap.Int64("requests", result.Summary.Requests),
		zap.Bool("passed", result.Passed),
	)

	return result, runErr
}

// runScenariosConcurrently runs all scenarios in parallel.
func (e *Engine) runScenariosConcurrently(ctx context.Context) error {
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, runner := range e.scenarios {
		wg.Add(1)
		go func(runner *ScenarioRunner) {
			defer wg.Done()

			if err := e.runScenario(ctx, runner); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("scenario %s failed: %w", runner.Name, err)
				}
				errMu.Unlock()
			}
		}(runner)
	}

	wg.Wait()
	return firstErr
}

// runScenario waits for the scenario's start offset, then runs its
// executor to completion.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) error {
	runner.Result = &ScenarioResult{
		Name:     runner.Name,
		Executor: runner.Config.Type(),
		MaxVUs:   runner.Config.MaxVUs(),
	}

	if !e.waitStart(ctx, runner.Config.StartTime) {
		runner.Result.Skipped = true
		e.logger.Info("scenario skipped before its start time", zap.String("scenario", runner.Name))
		return nil
	}

	start := time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler)

	stats := runner.Executor.GetStats()
	runner.Result.StartTime = start
	runner.Result.Duration = time.Since(start)
	runner.Result.Iterations = stats.Iterations
	runner.Result.InterruptedIterations = stats.InterruptedIterations
	runner.Result.DroppedIterations = stats.DroppedIterations
	if err != nil {
		runner.Result.Error = err.Error()
	}
	return err
}

// waitStart sleeps for offset. It returns false if the run was stopped or
// ctx was cancelled first.
func (e *Engine) waitStart(ctx context.Context, offset time.Duration) bool {
	if offset <= 0 {
		select {
		case <-e.stopCh:
			return false
		default:
			return ctx.Err() == nil
		}
	}

	timer := time.NewTimer(offset)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// sampleVUs records the vus and vus_max gauges until done is closed.
func (e *Engine) sampleVUs(done <-chan struct{}) {
	e.recordVUs()

	ticker := time.NewTicker(e.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.recordVUs()
		}
	}
}

func (e *Engine) recordVUs() {
	active, allocated := 0, 0
	for _, runner := range e.scenarios {
		active += runner.Executor.GetActiveVUs()
		allocated += runner.Executor.GetAllocatedVUs()
	}
	e.builtin.VUs.Add(float64(active), nil)
	e.builtin.VUsMax.Add(float64(allocated), nil)
}

// watchThresholds evaluates abortOnFail thresholds periodically and stops
// the run on the first breach.
func (e *Engine) watchThresholds(done <-chan struct{}) {
	ticker := time.NewTicker(e.opts.AbortCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			res, abort := e.thresholds.CheckAbort(e.Elapsed())
			if !abort {
				continue
			}
			reason := fmt.Sprintf("threshold %s %q crossed (observed %g)", res.Metric, res.Expression, res.Observed)
			e.logger.Warn("aborting test run",
				zap.String("metric", res.Metric),
				zap.String("threshold", res.Expression),
				zap.Float64("observed", res.Observed),
			)
			e.abort(reason)
			return
		}
	}
}

func (e *Engine) abort(reason string) {
	e.abortMu.Lock()
	if e.abortReason == "" {
		e.abortReason = reason
	}
	e.abortMu.Unlock()
	e.Stop()
}

// AbortReason returns why an abortOnFail threshold ended the run, or "".
func (e *Engine) AbortReason() string {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	return e.abortReason
}

// Stop ends the run gracefully: executors stop starting iterations and
// in-flight iterations get their graceful stop period.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		for _, runner := range e.scenarios {
			runner.Executor.Stop()
		}
	})
}

// IsRunning returns whether the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Elapsed returns the time since the run started.
func (e *Engine) Elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// GetProgress returns overall progress (0.0 to 1.0), averaged over
// scenarios.
func (e *Engine) GetProgress() float64 {
	if len(e.scenarios) == 0 {
		return 0
	}
	total := 0.0
	for _, runner := range e.scenarios {
		total += runner.Executor.GetProgress()
	}
	return total / float64(len(e.scenarios))
}

// GetScenarioStats returns the live executor statistics keyed by scenario.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for _, runner := range e.scenarios {
		stats[runner.Name] = runner.Executor.GetStats()
	}
	return stats
}

// ScenarioNames returns the scenario names in configuration order.
func (e *Engine) ScenarioNames() []string {
	names := make([]string, 0, len(e.scenarios))
	for _, runner := range e.scenarios {
		names = append(names, runner.Name)
	}
	return names
}
