package output

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

func TestWriteJSON(t *testing.T) {
	result := runSummaryEngine(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, result))

	report, err := ReadJSON(&buf)
	require.NoError(t, err)

	assert.Equal(t, result.RunID, report.RunID)
	assert.Equal(t, "summary", report.Name)
	assert.False(t, report.Passed)
	assert.Equal(t, int64(4), report.Summary.Iterations)

	require.Len(t, report.Thresholds, 2)
	assert.Equal(t, "latency", report.Thresholds[0].Metric)
	assert.True(t, report.Thresholds[0].Passed)
	assert.Equal(t, "latency{endpoint:profile}", report.Thresholds[1].Metric)
	assert.False(t, report.Thresholds[1].Passed)
	assert.Equal(t, 40.0, report.Thresholds[1].Observed)

	latency := report.Metrics["latency"]
	require.NotNil(t, latency)
	assert.Equal(t, "trend", latency.Type)
	assert.Equal(t, "time", latency.Contains)
	assert.Equal(t, 25.0, latency.Values["avg"])
	require.Contains(t, latency.Submetrics, "endpoint:profile")
	assert.Equal(t, 40.0, latency.Submetrics["endpoint:profile"]["max"])

	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "per-vu-iterations", report.Scenarios[0].Executor)
	assert.Equal(t, int64(4), report.Scenarios[0].Iterations)
}

func TestWriteJSONFile(t *testing.T) {
	result := runSummaryEngine(t)
	path := filepath.Join(t.TempDir(), "reports", "run.json")

	require.NoError(t, WriteJSONFile(path, result))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	report, err := ReadJSON(f)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, report.RunID)
}

func TestExporter(t *testing.T) {
	registry := metrics.NewRegistry()
	builtin := metrics.RegisterBuiltinMetrics(registry)
	custom := registry.MustNewMetric("auth_duration", metrics.TypeTrend, metrics.Time)

	tags := metrics.Tags{"scenario": "auth", "status": "200"}
	for i := 0; i < 3; i++ {
		builtin.HTTPReqs.Add(1, tags)
		builtin.HTTPReqFailed.AddBool(i == 0, tags)
		custom.Add(float64(100*(i+1)), tags)
	}
	builtin.VUs.Add(7, nil)

	exporter := NewExporter(registry, "run-1", nil)
	server := httptest.NewServer(exporter.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `surge_http_reqs_total{filter="",run_id="run-1"} 3`)
	assert.Contains(t, out, `surge_http_reqs_total{filter="scenario:auth",run_id="run-1"} 3`)
	assert.Contains(t, out, `surge_http_req_failed_rate{filter="",run_id="run-1"} 0.3333333333333333`)
	assert.Contains(t, out, `surge_vus{filter="",run_id="run-1"} 7`)
	assert.Contains(t, out, `surge_auth_duration_count{filter="",run_id="run-1"} 3`)
	assert.Contains(t, out, `surge_auth_duration_sum{filter="",run_id="run-1"} 600`)
	assert.Contains(t, out, `surge_auth_duration{filter="",run_id="run-1",quantile="0.5"} 200`)
}

func TestWriteJSON_ThresholdsNotEscaped(t *testing.T) {
	result := runSummaryEngine(t)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, result))

	assert.Contains(t, buf.String(), `"threshold": "max<20"`)
	assert.NotContains(t, buf.String(), `\u003c`)
}

func TestExporter_ServeLogsUnderOwnName(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	exporter := NewExporter(metrics.NewRegistry(), "run-1", zap.New(core).Named("surge"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exporter.Serve(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("serving metrics").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "surge.prometheus", logs.All()[0].LoggerName)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("exporter did not shut down")
	}
}
