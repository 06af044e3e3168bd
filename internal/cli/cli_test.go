package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/mocktarget"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/output"
)

var jane = performance.User{Email: "jane@example.com", Password: "Password123!", Name: "Jane"}

// startTarget serves the mock API with jane registered.
func startTarget(t *testing.T) string {
	t.Helper()
	target := mocktarget.New(mocktarget.Options{Users: []performance.User{jane}})
	server := httptest.NewServer(target.Handler())
	t.Cleanup(server.Close)
	return server.URL + mocktarget.BasePath
}

func writeConfig(t *testing.T, cfg map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func execute(t *testing.T, env func(string) (string, bool), args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &App{Stdout: &stdout, Stderr: &stderr, LookupEnv: env}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code := app.Execute(ctx, args)
	return code, stdout.String(), stderr.String()
}

func runArgs(configPath string, extra ...string) []string {
	args := []string{"run", "tasks", "-c", configPath,
		"--vus", "1", "--iterations", "2", "--think-time-scale", "0", "--seed", "7"}
	return append(args, extra...)
}

func TestRun_ThresholdsPass(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl": baseURL,
		"users":   []performance.User{jane},
	})
	report := filepath.Join(t.TempDir(), "out", "results.json")

	code, stdout, stderr := execute(t, noEnv, runArgs(cfgPath, "--out", "json="+report, "--no-color")...)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "http_req_duration")

	f, err := os.Open(report)
	require.NoError(t, err)
	defer f.Close()
	r, err := output.ReadJSON(f)
	require.NoError(t, err)

	assert.True(t, r.Passed)
	assert.Equal(t, "tasks", r.Name)
	assert.Equal(t, int64(2), r.Summary.Iterations)
	assert.Equal(t, int64(10), r.Summary.Requests)
	assert.Equal(t, int64(0), r.Summary.FailedRequests)
	assert.Len(t, r.Thresholds, 5)
}

func TestRun_ThresholdsFail(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl":    baseURL,
		"users":      []performance.User{jane},
		"thresholds": map[string][]string{"http_req_duration": {"p(95)<0"}},
	})

	code, _, stderr := execute(t, noEnv, runArgs(cfgPath, "-q")...)
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stderr, "1 threshold(s) failed")
}

func TestRun_ReportToStdout(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl": baseURL,
		"users":   []performance.User{jane},
	})

	code, stdout, stderr := execute(t, noEnv, runArgs(cfgPath, "--summary-export", "-")...)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)

	r, err := output.ReadJSON(bytes.NewBufferString(stdout))
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.Contains(t, stderr, "http_req_duration")
}

func TestRun_CredentialsFromEnv(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{"baseUrl": baseURL})

	code, _, stderr := execute(t, noEnv, runArgs(cfgPath, "-q")...)
	assert.Equal(t, ExitSetupError, code)
	assert.Contains(t, stderr, "needs at least one user")

	env := map[string]string{
		"VALID_USER_EMAIL":    jane.Email,
		"VALID_USER_PASSWORD": jane.Password,
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	code, _, stderr = execute(t, lookup, runArgs(cfgPath, "-q")...)
	assert.Equal(t, ExitOK, code, "stderr: %s", stderr)
}

func TestRun_BaseURLFlag(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl": "http://127.0.0.1:1/api/v1",
		"users":   []performance.User{jane},
	})

	code, _, stderr := execute(t, noEnv, runArgs(cfgPath, "-q", "--base-url", baseURL)...)
	assert.Equal(t, ExitOK, code, "stderr: %s", stderr)
}

func TestRun_SetupErrors(t *testing.T) {
	baseURL := startTarget(t)
	good := writeConfig(t, map[string]interface{}{
		"baseUrl": baseURL,
		"users":   []performance.User{jane},
	})
	invalid := writeConfig(t, map[string]interface{}{
		"baseUrl": "not a url",
		"users":   []performance.User{jane},
	})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown script", []string{"run", "nope", "-c", good}, "unknown script"},
		{"missing config", []string{"run", "tasks", "-c", filepath.Join(t.TempDir(), "missing.json")}, "failed to read config file"},
		{"invalid config", []string{"run", "tasks", "-c", invalid}, "baseUrl"},
		{"bad duration", runArgs(good, "--duration", "soon"), "invalid --duration"},
		{"bad stages", runArgs(good, "--stages", "30s"), "invalid --stages"},
		{"bad output", runArgs(good, "--out", "csv=x.csv"), "unsupported output"},
		{"bad log level", runArgs(good, "--log-level", "loud"), "invalid log level"},
		{"no script", []string{"run"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, noEnv, tt.args...)
			assert.Equal(t, ExitSetupError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_EnvFlags(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl": baseURL,
		"users":   []performance.User{jane},
	})
	t.Setenv("SURGE_ITERATIONS", "3")
	t.Setenv("SURGE_VUS", "1")
	t.Setenv("SURGE_THINK_TIME_SCALE", "0")

	code, stdout, stderr := execute(t, noEnv, "run", "tasks", "-c", cfgPath, "--summary-export", "-", "-q")
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)

	r, err := output.ReadJSON(bytes.NewBufferString(stdout))
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Summary.Iterations)
}

func TestScriptsCmd(t *testing.T) {
	code, stdout, _ := execute(t, noEnv, "scripts", "-v")
	require.Equal(t, ExitOK, code)

	for _, want := range []string{"NAME", "auth", "tasks", "api-endpoints", "spike", "endurance",
		"per-vu-iterations", "ramping-arrival-rate", "http_req_duration{name:create}: p(95)<600"} {
		assert.Contains(t, stdout, want)
	}
}

func TestValidateCmd(t *testing.T) {
	good := writeConfig(t, map[string]interface{}{
		"baseUrl": "http://localhost:5000/api/v1",
		"users":   []performance.User{jane},
	})

	code, stdout, _ := execute(t, noEnv, "validate", good)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "valid")

	code, stdout, _ = execute(t, noEnv, "validate", good, "--script", "spike")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "valid for script spike (1 scenario(s))")

	bad := writeConfig(t, map[string]interface{}{
		"baseUrl":    "http://localhost:5000/api/v1",
		"thresholds": map[string][]string{"http_req_duration": {"p(95)"}},
	})
	code, _, stderr := execute(t, noEnv, "validate", bad)
	assert.Equal(t, ExitSetupError, code)
	assert.Contains(t, stderr, "thresholds")
}

func TestVersionCmd(t *testing.T) {
	code, stdout, _ := execute(t, noEnv, "version")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "surge "+version+"\n", stdout)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitSetupError, ExitCode(errors.New("boom")))

	err := withExitCode(ExitThresholdsFailed, errors.New("failed"))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(err))
	assert.Equal(t, "failed", err.Error())
}

func TestRun_JUnitOutput(t *testing.T) {
	baseURL := startTarget(t)
	cfgPath := writeConfig(t, map[string]interface{}{
		"baseUrl":    baseURL,
		"users":      []performance.User{jane},
		"thresholds": map[string][]string{"http_req_duration": {"p(95)<0"}, "http_req_failed": {"rate<0.5"}},
	})
	path := filepath.Join(t.TempDir(), "junit.xml")

	code, _, _ := execute(t, noEnv, runArgs(cfgPath, "-q", "--out", "junit="+path)...)
	assert.Equal(t, ExitThresholdsFailed, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tests="2" failures="1"`)
	assert.Contains(t, string(data), "http_req_duration p(95)&lt;0")
}
