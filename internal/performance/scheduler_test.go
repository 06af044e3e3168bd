package performance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

func newTestScheduler(seed int64, exec performance.IterationFunc) *performance.VUScheduler {
	registry := metrics.NewRegistry()
	return performance.NewVUScheduler(performance.SchedulerConfig{
		Scenario: "sched",
		Exec:     exec,
		Registry: registry,
		Metrics:  metrics.RegisterBuiltinMetrics(registry),
		Seed:     seed,
		Tags:     metrics.Tags{"team": "qa"},
	})
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	s := newTestScheduler(1, nil)

	vu1 := s.SpawnVU()
	vu2 := s.SpawnVU()

	if vu1.ID != 1 || vu2.ID != 2 {
		t.Errorf("IDs = %d, %d, want 1, 2", vu1.ID, vu2.ID)
	}
	if vu1.Scenario != "sched" {
		t.Errorf("Scenario = %q, want sched", vu1.Scenario)
	}
	if vus := s.VUs(); len(vus) != 2 || vus[0] != vu1 || vus[1] != vu2 {
		t.Errorf("VUs() = %v, want the two spawned VUs in ID order", vus)
	}
	if got := s.SpawnedVUs(); got != 2 {
		t.Errorf("SpawnedVUs() = %d, want 2", got)
	}

	tags := s.Tags()
	if tags["scenario"] != "sched" || tags["team"] != "qa" {
		t.Errorf("Tags() = %v", tags)
	}
}

func TestVUScheduler_SeededRandomSources(t *testing.T) {
	a := newTestScheduler(99, nil).SpawnVU()
	b := newTestScheduler(99, nil).SpawnVU()

	for i := 0; i < 5; i++ {
		if x, y := a.Rand().Int63(), b.Rand().Int63(); x != y {
			t.Fatalf("draw %d differs for the same seed: %d vs %d", i, x, y)
		}
	}

	s := newTestScheduler(99, nil)
	v1, v2 := s.SpawnVU(), s.SpawnVU()
	if v1.Rand().Int63() == v2.Rand().Int63() {
		t.Error("two VUs of one scenario share a random sequence")
	}
}

func TestVUScheduler_RemoveVU(t *testing.T) {
	s := newTestScheduler(1, nil)
	vus := []*performance.VirtualUser{s.SpawnVU(), s.SpawnVU(), s.SpawnVU()}

	vus[2].RequestStop()
	if got := len(s.VUs()); got != 3 {
		t.Errorf("len(VUs()) = %d, want 3 while draining", got)
	}

	s.RemoveVU(vus[2].ID)
	if vus[2].GetState() != performance.VUStateStopped {
		t.Errorf("removed VU state = %v, want stopped", vus[2].GetState())
	}
	for _, vu := range s.VUs() {
		if vu == vus[2] {
			t.Error("removed VU still registered")
		}
	}
	if got := len(s.VUs()); got != 2 {
		t.Errorf("len(VUs()) after RemoveVU = %d, want 2", got)
	}
	if got := s.SpawnedVUs(); got != 3 {
		t.Errorf("SpawnedVUs() = %d, want 3", got)
	}

	// removing twice is harmless
	s.RemoveVU(vus[2].ID)
	s.RemoveVU(42)
	if got := len(s.VUs()); got != 2 {
		t.Errorf("len(VUs()) = %d, want 2", got)
	}
}

func TestVUScheduler_StopAllVUs(t *testing.T) {
	s := newTestScheduler(1, nil)
	for i := 0; i < 4; i++ {
		s.SpawnVU()
	}

	s.StopAllVUs()
	vus := s.VUs()
	if len(vus) != 4 {
		t.Fatalf("len(VUs()) = %d, want 4", len(vus))
	}
	for _, vu := range vus {
		if !vu.IsStopping() || vu.GetState() != performance.VUStateStopping {
			t.Errorf("VU %d state = %v, want stopping", vu.ID, vu.GetState())
		}
	}
}

func TestVUScheduler_StopAllVUs_RunningVUsExit(t *testing.T) {
	s := newTestScheduler(1, func(ctx context.Context, vc *performance.VUContext) error {
		vc.Sleep(ctx, 10*time.Millisecond)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		vu := s.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.RemoveVU(vu.ID)
			for !vu.IsStopping() {
				_ = vu.RunIteration(context.Background())
			}
		}()
	}

	time.Sleep(30 * time.Millisecond)
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("VUs still running after StopAllVUs")
	}
	if got := len(s.VUs()); got != 0 {
		t.Errorf("len(VUs()) = %d, want 0", got)
	}
}

func TestVUScheduler_ConcurrentSpawn(t *testing.T) {
	s := newTestScheduler(1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SpawnVU()
		}()
	}
	wg.Wait()

	vus := s.VUs()
	if len(vus) != 50 {
		t.Errorf("len(VUs()) = %d, want 50", len(vus))
	}
	seen := map[int]bool{}
	for _, vu := range vus {
		if seen[vu.ID] {
			t.Fatalf("duplicate VU id %d", vu.ID)
		}
		seen[vu.ID] = true
	}
}
