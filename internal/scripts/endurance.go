package scripts

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
)

// EndurancePassword is the password of every account the endurance script
// registers.
const EndurancePassword = "EnduranceTest123!"

const enduranceGroup = "::User Registration and Authentication Flow"

func init() {
	register(&Script{
		Name:        "endurance",
		Description: "Registers, logs in and creates a task in a loop over a long steady run",
		Scenarios: map[string]*config.ScenarioConfig{
			"endurance": {
				Executor: "constant-vus",
				VUs:      2,
				Duration: config.Duration(10 * time.Minute),
			},
		},
		Thresholds: limits(map[string][]string{
			"http_req_duration": {"p(95)<500"},
			"http_req_failed":   {"rate<0.01"},
		}),
		Exec: enduranceIteration,
	})
}

var (
	registered = performance.NewCheck("registration status is 201", func(r *http.Result) bool {
		return r.StatusCode == 201
	})
	profileOK = performance.NewCheck("profile status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
)

var errLoginFailed = errors.New("login failed")

func enduranceIteration(ctx context.Context, vu *performance.VUContext) error {
	user := performance.User{
		Name:     "Endurance Test User " + shortID(5),
		Email:    uniqueEmail("endurance"),
		Password: EndurancePassword,
	}

	reg := vu.Do(ctx, http.Post("/auth/register", registration(user.Name, user.Email, user.Password)).
		WithName("register").
		WithTag("group", enduranceGroup).
		Expect(201))
	vu.Check(reg, registered)

	if !think(ctx, vu, time.Second, time.Second) {
		return ctx.Err()
	}

	res, token := login(ctx, vu, user, enduranceGroup, nil)
	if !vu.Check(res, loginStatusOK, hasAccessToken) || token == "" {
		vu.Logger().Info("login failed",
			zap.String("email", user.Email),
			zap.Int("status", res.StatusCode),
		)
		return errLoginFailed
	}

	profile := vu.Do(ctx, http.Get("/users/profile").WithBearer(token).WithTag("group", enduranceGroup))
	vu.Check(profile, profileOK)

	if !think(ctx, vu, time.Second, time.Second) {
		return ctx.Err()
	}

	task := newTask("Endurance Test Task "+shortID(5), "This task was created during endurance testing")
	created := vu.Do(ctx, http.Post("/tasks", task).
		WithBearer(token).
		WithName("create").
		WithTag("group", enduranceGroup).
		Expect(201))
	vu.Check(created, taskCreated)

	think(ctx, vu, time.Second, time.Second)
	return nil
}
