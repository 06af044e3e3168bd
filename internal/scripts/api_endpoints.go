package scripts

import (
	"context"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
)

const endpointsGroup = "::API Endpoints Performance"

// endpoint is one authenticated GET exercised by the api-endpoints script.
type endpoint struct {
	tag  string
	path string
}

var apiEndpoints = []endpoint{
	{tag: "profile", path: "/users/profile"},
	{tag: "tasks", path: "/tasks"},
	{tag: "notes", path: "/notes"},
	{tag: "activities", path: "/activities"},
}

func init() {
	register(&Script{
		Name:        "api-endpoints",
		Description: "Measures the authenticated read endpoints under a constant VU load",
		Scenarios: map[string]*config.ScenarioConfig{
			"constant_load": {
				Executor: "constant-vus",
				VUs:      10,
				Duration: config.Duration(30 * time.Second),
			},
		},
		Thresholds: limits(map[string][]string{
			"http_req_duration{endpoint:profile}":    {"p(95)<300"},
			"http_req_duration{endpoint:tasks}":      {"p(95)<400"},
			"http_req_duration{endpoint:notes}":      {"p(95)<400"},
			"http_req_duration{endpoint:activities}": {"p(95)<400"},
		}),
		NeedsUsers: true,
		Exec:       endpointsIteration,
	})
}

func endpointsIteration(ctx context.Context, vu *performance.VUContext) error {
	sess, err := loginRandomUser(ctx, vu, "")
	if err != nil {
		return err
	}

	for i, ep := range apiEndpoints {
		if i > 0 && !think(ctx, vu, 500*time.Millisecond, time.Second) {
			return ctx.Err()
		}
		res := vu.Do(ctx, http.Get(ep.path).
			WithBearer(sess.token).
			WithTag("endpoint", ep.tag).
			WithTag("group", endpointsGroup))
		vu.Check(res, performance.NewCheck(ep.tag+" status is 200", func(r *http.Result) bool {
			return r.StatusCode == 200
		}))
	}

	think(ctx, vu, time.Second, 2*time.Second)
	return nil
}
