package scripts

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/mocktarget"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testUsers = []performance.User{
	{Email: "jane@example.com", Password: "Password123!", Name: "Jane"},
	{Email: "bob@example.com", Password: "Password123!", Name: "Bob"},
}

func baseConfig() *config.TestConfig {
	return &config.TestConfig{
		BaseURL: "http://localhost:5000/api/v1",
		Users:   append([]performance.User(nil), testUsers...),
	}
}

func mustGet(t *testing.T, name string) *Script {
	t.Helper()
	s, err := Get(name)
	require.NoError(t, err)
	return s
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"api-endpoints", "auth", "endurance", "spike", "tasks"}, Names())

	for _, name := range []string{"auth", "AUTH", "auth-test", "auth-test.js"} {
		s, err := Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, "auth", s.Name)
	}

	_, err := Get("soak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api-endpoints, auth, endurance, spike, tasks")
}

func TestDefaultsBindToEngine(t *testing.T) {
	for _, s := range List() {
		t.Run(s.Name, func(t *testing.T) {
			opts, err := Build(s, baseConfig(), Overrides{}, nil)
			require.NoError(t, err)
			require.NotEmpty(t, opts.Scenarios)

			_, err = engine.New(opts)
			require.NoError(t, err)
		})
	}
}

func TestBuild_Defaults(t *testing.T) {
	tests := []struct {
		script   string
		scenario string
		params   executor.Params
	}{
		{"auth", "different_ips", executor.PerVUIterationsParams{VUs: 10, Iterations: 10, MaxDuration: 2 * time.Minute}},
		{"api-endpoints", "constant_load", executor.ConstantVUsParams{VUs: 10, Duration: 30 * time.Second}},
		{"endurance", "endurance", executor.ConstantVUsParams{VUs: 2, Duration: 10 * time.Minute}},
		{"tasks", "tasks_crud", executor.RampingVUsParams{
			StartVUs: 1,
			Stages: []executor.Stage{
				{Duration: 10 * time.Second, Target: 5},
				{Duration: 30 * time.Second, Target: 10},
				{Duration: 10 * time.Second, Target: 0},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			opts, err := Build(mustGet(t, tt.script), baseConfig(), Overrides{}, nil)
			require.NoError(t, err)
			require.Len(t, opts.Scenarios, 1)
			assert.Equal(t, tt.scenario, opts.Scenarios[0].Executor.Name)
			assert.Equal(t, tt.params, opts.Scenarios[0].Executor.Params)
			assert.Equal(t, tt.script, opts.Name)
			assert.Equal(t, "http://localhost:5000/api/v1", opts.BaseURL)
		})
	}
}

func TestBuild_SpikeDefaults(t *testing.T) {
	opts, err := Build(mustGet(t, "spike"), baseConfig(), Overrides{}, nil)
	require.NoError(t, err)

	p, ok := opts.Scenarios[0].Executor.Params.(executor.RampingArrivalRateParams)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.StartRate)
	assert.Equal(t, time.Second, p.TimeUnit)
	assert.Equal(t, 100, p.PreAllocatedVUs)
	assert.Equal(t, 200, p.MaxVUs)
	assert.Equal(t, executor.DropPolicyDrop, p.DropPolicy)
	require.Len(t, p.Stages, 5)
	assert.Equal(t, 100.0, p.Stages[2].Target)

	assert.Equal(t, []threshold.Definition{{Threshold: "p(95)<1000"}}, opts.Thresholds["http_req_duration"])
	assert.Equal(t, []threshold.Definition{{Threshold: "rate<0.1"}}, opts.Thresholds["http_req_failed"])
}

func TestBuild_ConfigReplacesDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.Scenarios = map[string]*config.ScenarioConfig{
		"smoke": {Executor: "constant-vus", VUs: 1, Duration: config.Duration(5 * time.Second)},
	}
	cfg.Thresholds = map[string]config.ThresholdList{
		"http_req_failed": {{Threshold: "rate<0.05"}},
	}

	opts, err := Build(mustGet(t, "tasks"), cfg, Overrides{}, nil)
	require.NoError(t, err)
	require.Len(t, opts.Scenarios, 1)
	assert.Equal(t, "smoke", opts.Scenarios[0].Executor.Name)
	assert.Equal(t, map[string][]threshold.Definition{"http_req_failed": {{Threshold: "rate<0.05"}}}, opts.Thresholds)

	// the script's defaults are untouched
	assert.Len(t, mustGet(t, "tasks").Scenarios["tasks_crud"].Stages, 3)
}

func TestBuild_AuthScenarios(t *testing.T) {
	cfg := baseConfig()
	cfg.Scenarios = map[string]*config.ScenarioConfig{
		"general": {Executor: "constant-vus", VUs: 1, Duration: config.Duration(time.Second)},
	}
	cfg.AuthScenarios = map[string]*config.ScenarioConfig{
		"same_ip": {Executor: "per-vu-iterations", VUs: 3, Iterations: 2},
	}

	opts, err := Build(mustGet(t, "auth"), cfg, Overrides{}, nil)
	require.NoError(t, err)
	require.Len(t, opts.Scenarios, 1)
	assert.Equal(t, "same_ip", opts.Scenarios[0].Executor.Name)

	// scripts without auth scenarios ignore them
	opts, err = Build(mustGet(t, "api-endpoints"), cfg, Overrides{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "general", opts.Scenarios[0].Executor.Name)
}

func TestBuild_Errors(t *testing.T) {
	noUsers := baseConfig()
	noUsers.Users = nil

	noURL := baseConfig()
	noURL.BaseURL = ""

	badScenario := baseConfig()
	badScenario.Scenarios = map[string]*config.ScenarioConfig{
		"broken": {Executor: "constant-vus"},
	}

	tests := []struct {
		name   string
		script string
		cfg    *config.TestConfig
		errMsg string
	}{
		{"users required", "auth", noUsers, "needs at least one user"},
		{"base url required", "spike", noURL, "baseUrl is required"},
		{"invalid scenario", "spike", badScenario, "scenarios.broken.vus"},
		{"nil config", "spike", nil, "no run configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(mustGet(t, tt.script), tt.cfg, Overrides{}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	// scripts that register users need no pool
	noUsersSpike := baseConfig()
	noUsersSpike.Users = nil
	_, err := Build(mustGet(t, "spike"), noUsersSpike, Overrides{}, nil)
	assert.NoError(t, err)
}

func TestBuild_Overrides(t *testing.T) {
	stages := []config.StageConfig{
		{Duration: config.Duration(30 * time.Second), Target: 10},
		{Duration: config.Duration(time.Minute), Target: 0},
	}

	tests := []struct {
		name   string
		script string
		ov     Overrides
		params executor.Params
	}{
		{
			name:   "vus on constant-vus",
			script: "api-endpoints",
			ov:     Overrides{VUs: 3},
			params: executor.ConstantVUsParams{VUs: 3, Duration: 30 * time.Second},
		},
		{
			name:   "duration on constant-vus",
			script: "endurance",
			ov:     Overrides{Duration: time.Minute},
			params: executor.ConstantVUsParams{VUs: 2, Duration: time.Minute},
		},
		{
			name:   "vus and duration on per-vu-iterations",
			script: "auth",
			ov:     Overrides{VUs: 4, Duration: time.Minute},
			params: executor.PerVUIterationsParams{VUs: 4, Iterations: 10, MaxDuration: time.Minute},
		},
		{
			name:   "vus turn ramping-vus into constant-vus",
			script: "tasks",
			ov:     Overrides{VUs: 3},
			params: executor.ConstantVUsParams{VUs: 3, Duration: 50 * time.Second},
		},
		{
			name:   "duration keeps the ramping peak",
			script: "tasks",
			ov:     Overrides{Duration: 20 * time.Second},
			params: executor.ConstantVUsParams{VUs: 10, Duration: 20 * time.Second},
		},
		{
			name:   "stages replace ramping-vus stages",
			script: "tasks",
			ov:     Overrides{Stages: stages},
			params: executor.RampingVUsParams{
				StartVUs: 1,
				Stages:   []executor.Stage{{Duration: 30 * time.Second, Target: 10}, {Duration: time.Minute, Target: 0}},
			},
		},
		{
			name:   "stages turn constant-vus into ramping-vus",
			script: "api-endpoints",
			ov:     Overrides{Stages: stages, VUs: 2},
			params: executor.RampingVUsParams{
				StartVUs: 2,
				Stages:   []executor.Stage{{Duration: 30 * time.Second, Target: 10}, {Duration: time.Minute, Target: 0}},
			},
		},
		{
			name:   "iterations",
			script: "api-endpoints",
			ov:     Overrides{Iterations: 5},
			params: executor.PerVUIterationsParams{VUs: 10, Iterations: 5},
		},
		{
			name:   "iterations and vus",
			script: "tasks",
			ov:     Overrides{Iterations: 2, VUs: 1},
			params: executor.PerVUIterationsParams{VUs: 1, Iterations: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Build(mustGet(t, tt.script), baseConfig(), tt.ov, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.params, opts.Scenarios[0].Executor.Params)
		})
	}
}

func TestBuild_StageOverrideOnArrivalRate(t *testing.T) {
	stages, err := ParseStages("5s:20,5s:0")
	require.NoError(t, err)

	opts, err := Build(mustGet(t, "spike"), baseConfig(), Overrides{Stages: stages}, nil)
	require.NoError(t, err)

	p, ok := opts.Scenarios[0].Executor.Params.(executor.RampingArrivalRateParams)
	require.True(t, ok, "arrival rate scenario keeps its executor")
	assert.Equal(t, []executor.Stage{{Duration: 5 * time.Second, Target: 20}, {Duration: 5 * time.Second}}, p.Stages)
	assert.Equal(t, 200, p.MaxVUs)
}

func TestBuild_ThinkTimeScale(t *testing.T) {
	half := 0.5
	opts, err := Build(mustGet(t, "spike"), baseConfig(), Overrides{ThinkTimeScale: &half}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.5", opts.Env[EnvThinkTimeScale])

	opts, err = Build(mustGet(t, "spike"), baseConfig(), Overrides{}, nil)
	require.NoError(t, err)
	assert.NotContains(t, opts.Env, EnvThinkTimeScale)
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		input   string
		want    []config.StageConfig
		wantErr bool
	}{
		{input: "", want: nil},
		{input: "30s:10", want: []config.StageConfig{{Duration: config.Duration(30 * time.Second), Target: 10}}},
		{input: "30s:10, 1m:0", want: []config.StageConfig{
			{Duration: config.Duration(30 * time.Second), Target: 10},
			{Duration: config.Duration(time.Minute), Target: 0},
		}},
		{input: "10:2.5", want: []config.StageConfig{{Duration: config.Duration(10 * time.Second), Target: 2.5}}},
		{input: "30s", wantErr: true},
		{input: "abc:10", wantErr: true},
		{input: "0s:10", wantErr: true},
		{input: "30s:-1", wantErr: true},
		{input: "30s:ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStages(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// runAgainstTarget runs script against a fresh mock target, replacing its
// scenarios with a small per-vu-iterations one and disabling think time.
func runAgainstTarget(t *testing.T, name string, vus int, iterations int64, users []performance.User) (*engine.TestResult, *mocktarget.Server) {
	t.Helper()

	target := mocktarget.New(mocktarget.Options{Users: testUsers})
	server := httptest.NewServer(target.Handler())
	t.Cleanup(server.Close)

	cfg := &config.TestConfig{
		BaseURL: server.URL + mocktarget.BasePath,
		Users:   users,
		Settings: config.GlobalSettings{
			Seed: 42,
		},
	}
	none := 0.0
	opts, err := Build(mustGet(t, name), cfg, Overrides{VUs: vus, Iterations: iterations, ThinkTimeScale: &none}, nil)
	require.NoError(t, err)

	eng, err := engine.New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := eng.Run(ctx)
	require.NoError(t, err)
	require.False(t, result.Interrupted)
	return result, target
}

func count(t *testing.T, result *engine.TestResult, metric, stat string) float64 {
	t.Helper()
	m := result.Metric(metric)
	require.NotNil(t, m, metric)
	return m.Values[stat]
}

func TestAuthScript(t *testing.T) {
	users := append([]performance.User(nil), testUsers...)
	users = append(users, performance.User{Email: "mallory@example.com", Password: "wrong-password"})

	result, _ := runAgainstTarget(t, "auth", 3, 4, users)

	assert.Equal(t, int64(12), result.Summary.Iterations)
	successes := count(t, result, SuccessfulLoginsMetric, "count")
	failures := count(t, result, FailedLoginsMetric, "count")
	assert.Equal(t, 12.0, successes+failures)
	assert.InDelta(t, successes/12, count(t, result, SuccessRateMetric, "rate"), 1e-9)
	assert.Equal(t, 12.0, count(t, result, AuthDurationMetric, "count"))

	// one profile request per successful login
	assert.Equal(t, int64(12+successes), result.Summary.Requests)
	assert.Equal(t, int64(failures*2), result.Summary.ChecksFailed)

	login := result.Metric("http_req_duration").Submetric("http_req_duration{name:login}")
	require.NotNil(t, login)
	assert.Equal(t, 12.0, login.Values["count"])
}

func TestTasksScript(t *testing.T) {
	result, target := runAgainstTarget(t, "tasks", 2, 2, testUsers)

	assert.True(t, result.Passed, "thresholds: %+v", result.FailedThresholds())
	assert.Equal(t, int64(4), result.Summary.Iterations)
	assert.Equal(t, int64(0), result.Summary.IterationErrors)
	// login, list, create, update, delete
	assert.Equal(t, int64(20), result.Summary.Requests)
	assert.Equal(t, int64(0), result.Summary.FailedRequests)
	assert.Equal(t, int64(0), result.Summary.ChecksFailed)
	assert.Equal(t, int64(28), result.Summary.ChecksPassed)
	assert.Equal(t, int64(20), target.Requests())

	duration := result.Metric("http_req_duration")
	for _, name := range []string{"list", "create", "update", "delete"} {
		sm := duration.Submetric("http_req_duration{name:" + name + "}")
		require.NotNil(t, sm, name)
		assert.Equal(t, 4.0, sm.Values["count"], name)
	}
	assert.Len(t, result.Thresholds, 5)
}

func TestAPIEndpointsScript(t *testing.T) {
	result, _ := runAgainstTarget(t, "api-endpoints", 2, 3, testUsers)

	assert.True(t, result.Passed, "thresholds: %+v", result.FailedThresholds())
	assert.Equal(t, int64(6), result.Summary.Iterations)
	assert.Equal(t, int64(30), result.Summary.Requests)
	assert.Equal(t, int64(24), result.Summary.ChecksPassed)

	duration := result.Metric("http_req_duration")
	for _, ep := range apiEndpoints {
		sm := duration.Submetric("http_req_duration{endpoint:" + ep.tag + "}")
		require.NotNil(t, sm, ep.tag)
		assert.Equal(t, 6.0, sm.Values["count"], ep.tag)
	}
}

func TestSpikeScript(t *testing.T) {
	result, target := runAgainstTarget(t, "spike", 2, 3, nil)

	assert.True(t, result.Passed, "thresholds: %+v", result.FailedThresholds())
	assert.Equal(t, int64(12), result.Summary.Requests)
	assert.Equal(t, int64(0), result.Summary.FailedRequests)
	assert.Equal(t, int64(12), result.Summary.ChecksPassed)
	// every iteration registers a new account
	assert.Equal(t, len(testUsers)+6, target.Accounts())
}

func TestEnduranceScript(t *testing.T) {
	result, target := runAgainstTarget(t, "endurance", 2, 2, nil)

	assert.True(t, result.Passed, "thresholds: %+v", result.FailedThresholds())
	assert.Equal(t, int64(4), result.Summary.Iterations)
	assert.Equal(t, int64(0), result.Summary.IterationErrors)
	// register, login, profile, create task
	assert.Equal(t, int64(16), result.Summary.Requests)
	assert.Equal(t, int64(20), result.Summary.ChecksPassed)
	assert.Equal(t, len(testUsers)+4, target.Accounts())
}

func TestEnduranceScript_LoginFailureEndsIteration(t *testing.T) {
	target := mocktarget.New(mocktarget.Options{})
	server := httptest.NewServer(target.Handler())
	defer server.Close()

	// a target that rejects every login
	opts, err := Build(mustGet(t, "endurance"), &config.TestConfig{BaseURL: server.URL + "/missing"},
		Overrides{VUs: 1, Iterations: 2, ThinkTimeScale: new(float64)}, nil)
	require.NoError(t, err)
	eng, err := engine.New(opts)
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, int64(2), result.Summary.IterationErrors)
	// register and login only
	assert.Equal(t, int64(4), result.Summary.Requests)
	assert.Equal(t, int64(4), result.Summary.FailedRequests)
}
