package scripts

import (
	"context"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
)

// SpikePassword is the password of every account the spike script registers.
const SpikePassword = "StrongPassword123!"

func init() {
	register(&Script{
		Name:        "spike",
		Description: "Drives health checks and registrations through a sudden arrival rate spike",
		Scenarios: map[string]*config.ScenarioConfig{
			"spike": {
				Executor:        "ramping-arrival-rate",
				StartRate:       1,
				TimeUnit:        config.Duration(time.Second),
				PreAllocatedVUs: 100,
				MaxVUs:          200,
				Stages: []config.StageConfig{
					{Duration: config.Duration(10 * time.Second), Target: 5, Name: "normal"},
					{Duration: config.Duration(20 * time.Second), Target: 50, Name: "spike"},
					{Duration: config.Duration(30 * time.Second), Target: 100, Name: "extreme"},
					{Duration: config.Duration(20 * time.Second), Target: 10, Name: "scale down"},
					{Duration: config.Duration(10 * time.Second), Target: 0, Name: "cool down"},
				},
			},
		},
		Thresholds: limits(map[string][]string{
			"http_req_duration": {"p(95)<1000"},
			"http_req_failed":   {"rate<0.1"},
		}),
		Exec: spikeIteration,
	})
}

var (
	healthOK = performance.NewCheck("health check status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
	registrationAnswered = performance.NewCheck("registration response received", func(r *http.Result) bool {
		return r.StatusCode != 0
	})
)

func spikeIteration(ctx context.Context, vu *performance.VUContext) error {
	health := vu.Do(ctx, http.Get("/health").WithName("health"))
	vu.Check(health, healthOK)

	if !think(ctx, vu, 100*time.Millisecond, 500*time.Millisecond) {
		return ctx.Err()
	}

	body := registration("Load Test User "+shortID(8), uniqueEmail("loadtest"), SpikePassword)
	reg := vu.Do(ctx, http.Post("/auth/register", body).WithName("register"))
	vu.Check(reg, registrationAnswered)

	think(ctx, vu, 100*time.Millisecond, 300*time.Millisecond)
	return nil
}
