package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "baseUrl": "http://localhost:5000/api/v1/",
  "users": [
    {"email": "alice@example.com", "password": "secret1"},
    {"email": "bob@example.com", "password": "secret2", "name": "Bob"}
  ],
  "scenarios": {
    "smoke": {"executor": "constant-vus", "vus": 5, "duration": "30s"},
    "spike": {
      "executor": "ramping-arrival-rate",
      "startRate": 1,
      "preAllocatedVUs": 10,
      "maxVUs": 50,
      "stages": [{"duration": "10s", "target": 20}, {"duration": 5, "target": 0}]
    }
  },
  "thresholds": {
    "http_req_duration": ["p(95)<500"],
    "http_req_duration{name:list}": "p(95)<400",
    "http_req_failed": [{"threshold": "rate<0.01", "abortOnFail": true, "delayAbortEval": "10s"}]
  },
  "authScenarios": {
    "different_ips": {"executor": "per-vu-iterations", "vus": 10, "iterations": 10, "maxDuration": "2m"}
  }
}`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "fraction as seconds", input: "1.5", expected: 1500 * time.Millisecond},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseConfig_JSON(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleJSON), "config.json")
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:5000/api/v1", cfg.BaseURL)
	require.Len(t, cfg.Users, 2)
	assert.Equal(t, "Bob", cfg.Users[1].Name)

	smoke := cfg.Scenarios["smoke"]
	require.NotNil(t, smoke)
	assert.Equal(t, 30*time.Second, time.Duration(smoke.Duration))

	spike := cfg.Scenarios["spike"]
	require.NotNil(t, spike)
	require.Len(t, spike.Stages, 2)
	assert.Equal(t, 5*time.Second, time.Duration(spike.Stages[1].Duration))
	assert.Equal(t, time.Second, time.Duration(spike.TimeUnit))
	assert.Equal(t, "drop", spike.DropPolicy)

	defs := cfg.Definitions()
	require.Len(t, defs["http_req_duration{name:list}"], 1)
	assert.Equal(t, "p(95)<400", defs["http_req_duration{name:list}"][0].Threshold)
	failed := defs["http_req_failed"][0]
	assert.True(t, failed.AbortOnFail)
	assert.Equal(t, 10*time.Second, failed.DelayAbortEval)

	assert.Equal(t, DefaultTimeout, time.Duration(cfg.Settings.Timeout))
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_YAML(t *testing.T) {
	doc := `
baseUrl: http://localhost:5000/api/v1
users:
  - email: alice@example.com
    password: secret1
scenarios:
  tasks:
    executor: ramping-vus
    startVUs: 1
    stages:
      - duration: 10s
        target: 5
      - duration: 30
        target: 0
thresholds:
  http_req_duration:
    - p(95)<500
    - threshold: avg<200
      abortOnFail: true
  checks: rate>0.9
`
	cfg, err := ParseConfig([]byte(doc), "config.yaml")
	require.NoError(t, err)

	tasks := cfg.Scenarios["tasks"]
	require.NotNil(t, tasks)
	assert.Equal(t, 30*time.Second, time.Duration(tasks.Stages[1].Duration))

	require.Len(t, cfg.Thresholds["http_req_duration"], 2)
	assert.True(t, cfg.Thresholds["http_req_duration"][1].AbortOnFail)
	require.Len(t, cfg.Thresholds["checks"], 1)
	assert.Equal(t, "rate>0.9", cfg.Thresholds["checks"][0].Threshold)
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing baseUrl",
			doc:   `{"users": []}`,
			field: "(root)",
		},
		{
			name:  "unknown executor",
			doc:   `{"baseUrl": "http://x", "scenarios": {"s": {"executor": "shared-iterations"}}}`,
			field: "scenarios.s.executor",
		},
		{
			name:  "user without password",
			doc:   `{"baseUrl": "http://x", "users": [{"email": "a@b.c"}]}`,
			field: "users.0",
		},
		{
			name:  "negative vus",
			doc:   `{"baseUrl": "http://x", "scenarios": {"s": {"executor": "constant-vus", "vus": -1, "duration": "1s"}}}`,
			field: "scenarios.s.vus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc), "config.json")
			require.Error(t, err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected *ValidationErrors, got %T: %v", err, err)
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "no error on %s in %v", tt.field, err)
		})
	}
}

func TestParseConfig_InvalidJSON(t *testing.T) {
	_, err := ParseConfig([]byte(`{"baseUrl": `), "config.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON config")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Scenarios, 2)
	assert.Len(t, cfg.AuthScenarios, 1)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to read config file"))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	require.NoError(t, d.UnmarshalJSON([]byte(`45`)))
	assert.Equal(t, 45*time.Second, time.Duration(d))

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
