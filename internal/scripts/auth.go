package scripts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Custom metrics of the auth script.
const (
	AuthDurationMetric     = "auth_duration"
	SuccessfulLoginsMetric = "successful_logins"
	FailedLoginsMetric     = "failed_logins"
	SuccessRateMetric      = "success_rate"
)

const loginGroup = "::Login Flow"

func init() {
	register(&Script{
		Name:        "auth",
		Description: "Logs random pool users in from random client IPs, then fetches their profile",
		Scenarios: map[string]*config.ScenarioConfig{
			"different_ips": {
				Executor:    "per-vu-iterations",
				VUs:         10,
				Iterations:  10,
				MaxDuration: config.Duration(2 * time.Minute),
			},
		},
		UsesAuthScenarios: true,
		NeedsUsers:        true,
		Metrics:           authMetrics,
		Exec:              authIteration,
	})
}

func authMetrics(r *metrics.Registry) error {
	if _, err := r.NewMetric(AuthDurationMetric, metrics.TypeTrend, metrics.Time); err != nil {
		return err
	}
	if _, err := r.NewMetric(SuccessfulLoginsMetric, metrics.TypeCounter); err != nil {
		return err
	}
	if _, err := r.NewMetric(FailedLoginsMetric, metrics.TypeCounter); err != nil {
		return err
	}
	_, err := r.NewMetric(SuccessRateMetric, metrics.TypeRate)
	return err
}

var (
	loginStatusOK = performance.NewCheck("login status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
	hasAccessToken = performance.NewCheck("has access token", func(r *http.Result) bool {
		return r.JSON(tokenPath).Exists()
	})
	profileStatusOK = performance.NewCheck("profile status is 200", func(r *http.Result) bool {
		return r.StatusCode == 200
	})
	profileHasName = performance.NewCheck("profile has name", func(r *http.Result) bool {
		return r.JSON("data.name").Exists()
	})
)

func authIteration(ctx context.Context, vu *performance.VUContext) error {
	user, ok := vu.Shared().RandomUser(vu.Rand())
	if !ok {
		return performance.ErrSkipIteration
	}
	ip := randomIP(vu.Rand())
	headers := map[string]string{
		"X-Forwarded-For": ip,
		"X-Real-IP":       ip,
	}
	groupTags := metrics.Tags{"group": loginGroup}

	vu.Logger().Debug("login attempt", zap.String("ip", ip), zap.String("email", user.Email))

	res, token := login(ctx, vu, user, loginGroup, headers)
	vu.Record(AuthDurationMetric, metrics.Millis(res.Duration), groupTags)

	if vu.Check(res, loginStatusOK, hasAccessToken) && token != "" {
		vu.Record(SuccessfulLoginsMetric, 1, groupTags)
		vu.Record(SuccessRateMetric, 1, groupTags)

		if !think(ctx, vu, time.Second, time.Second) {
			return ctx.Err()
		}

		req := http.Get("/users/profile").WithBearer(token).WithTag("group", loginGroup)
		for k, v := range headers {
			req.WithHeader(k, v)
		}
		profile := vu.Do(ctx, req)
		vu.Check(profile, profileStatusOK, profileHasName)
	} else {
		vu.Logger().Info("login failed",
			zap.String("email", user.Email),
			zap.String("ip", ip),
			zap.Int("status", res.StatusCode),
		)
		vu.Record(FailedLoginsMetric, 1, groupTags)
		vu.Record(SuccessRateMetric, 0, groupTags)
	}

	think(ctx, vu, time.Second, 3*time.Second)
	return nil
}
