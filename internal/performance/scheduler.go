package performance

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// SchedulerConfig holds what a VUScheduler needs to build VUs.
type SchedulerConfig struct {
	// Scenario name, attached as the "scenario" tag
	Scenario string

	// Exec is the iteration body every VU runs
	Exec IterationFunc

	// Client is the run's shared request client
	Client *http.Client

	Registry *metrics.Registry
	Metrics  *metrics.BuiltinMetrics

	// Shared is read-only data visible to every VU
	Shared *SharedData

	// Seed makes per-VU random sources reproducible; 0 seeds from the clock
	Seed int64

	// Tags are extra scenario-level tags
	Tags metrics.Tags

	Logger *zap.Logger
}

// VUScheduler manages the lifecycle of the Virtual Users of one scenario.
//
// It provides:
//   - VU creation with per-VU tags, random source and logger
//   - VU bookkeeping (live, draining and stopped VUs)
//   - stop coordination
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	cfg      SchedulerConfig
	seedBase int64
	vuTags   metrics.Tags
	client   *http.Client
	logger   *zap.Logger

	// Active VUs
	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	// VU ID counter
	nextVUID atomic.Int32
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(cfg SchedulerConfig) *VUScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Client == nil {
		cfg.Client = http.NewClient(http.WithMetrics(cfg.Metrics))
	}

	vuTags := cfg.Tags.Clone()
	if cfg.Scenario != "" {
		vuTags["scenario"] = cfg.Scenario
	}

	seedBase := cfg.Seed
	if seedBase == 0 {
		seedBase = time.Now().UnixNano()
	} else {
		h := fnv.New64a()
		h.Write([]byte(cfg.Scenario))
		seedBase ^= int64(h.Sum64() >> 1)
	}

	return &VUScheduler{
		cfg:      cfg,
		seedBase: seedBase,
		vuTags:   vuTags,
		client:   cfg.Client.Tagged(vuTags),
		logger:   logger,
		vus:      make(map[int]*VirtualUser),
	}
}

// Metrics returns the builtin metrics VUs record into.
func (s *VUScheduler) Metrics() *metrics.BuiltinMetrics {
	return s.cfg.Metrics
}

// Tags returns the tags every sample of this scenario carries.
func (s *VUScheduler) Tags() metrics.Tags {
	return s.vuTags.Clone()
}

// SpawnVU creates and returns a new Virtual User.
//
// The VU is registered with the scheduler but not started.
// The caller is responsible for running the VU.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	vu := NewVirtualUser(id, VUOptions{
		Scenario: s.cfg.Scenario,
		Exec:     s.cfg.Exec,
		Client:   s.client,
		Registry: s.cfg.Registry,
		Metrics:  s.cfg.Metrics,
		Shared:   s.cfg.Shared,
		Rand:     rand.New(rand.NewSource(s.seedBase + int64(id))), //nolint:gosec // load generation, not crypto
		Tags:     s.cfg.Tags,
		Logger:   s.logger,
	})

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// SpawnedVUs returns how many VUs were created in total.
func (s *VUScheduler) SpawnedVUs() int {
	return int(s.nextVUID.Load())
}

// VUs returns the registered VUs ordered by ID. A VU stays registered
// until it is removed, even once stopped.
func (s *VUScheduler) VUs() []*VirtualUser {
	s.vusMu.RLock()
	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		result = append(result, vu)
	}
	s.vusMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	for _, vu := range s.VUs() {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and forgets it. Executors that retire VUs
// mid-run call it once the VU has exited.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// Close releases idle connections held by the scheduler's client.
func (s *VUScheduler) Close() {
	s.client.CloseIdleConnections()
}
