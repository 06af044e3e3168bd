package output

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "surge"

// filterLabel carries a submetric's tag filter; the root metric has an
// empty filter.
const filterLabel = "filter"

// trendQuantiles are the quantiles exported for trend metrics.
var trendQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Exporter exposes a run's metrics registry to Prometheus. Values are read
// from the registry at scrape time.
type Exporter struct {
	registry  *metrics.Registry
	namespace string
	runID     string
	start     time.Time

	gatherer *prometheus.Registry
	logger   *zap.Logger
}

// NewExporter creates an exporter for registry. runID is attached to every
// series as the run_id label.
func NewExporter(registry *metrics.Registry, runID string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		registry:  registry,
		namespace: DefaultNamespace,
		runID:     runID,
		start:     time.Now(),
		gatherer:  prometheus.NewRegistry(),
		logger:    logger.Named("prometheus"),
	}
	e.gatherer.MustRegister(e)
	return e
}

// Describe implements prometheus.Collector. The exporter is unchecked: the
// set of metrics grows as scripts register custom metrics and submetrics.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	elapsed := time.Since(e.start)
	for _, m := range e.registry.All() {
		name := prometheus.BuildFQName(e.namespace, "", m.Name)
		e.collectSink(ch, m, name, "", m.Sink, elapsed)
		for _, sm := range m.Submetrics() {
			e.collectSink(ch, m, name, sm.Suffix, sm.Sink, elapsed)
		}
	}
}

func (e *Exporter) collectSink(ch chan<- prometheus.Metric, m *metrics.Metric, name, filter string, sink metrics.Sink, elapsed time.Duration) {
	labels := prometheus.Labels{"run_id": e.runID}
	variable := []string{filterLabel}

	switch s := sink.(type) {
	case *metrics.CounterSink:
		desc := prometheus.NewDesc(name+"_total", help(m), variable, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, s.Count(), filter)
	case *metrics.GaugeSink:
		desc := prometheus.NewDesc(name, help(m), variable, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Value(), filter)
	case *metrics.RateSink:
		desc := prometheus.NewDesc(name+"_rate", help(m), variable, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Rate(), filter)
	case *metrics.TrendSink:
		count := s.Count()
		quantiles := make(map[float64]float64, len(trendQuantiles))
		for _, q := range trendQuantiles {
			quantiles[q] = s.Percentile(q * 100)
		}
		desc := prometheus.NewDesc(name, help(m), variable, labels)
		ch <- prometheus.MustNewConstSummary(desc, uint64(count), s.Avg()*float64(count), quantiles, filter)
	default:
		values := sink.Summary(elapsed)
		desc := prometheus.NewDesc(name, help(m), variable, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.UntypedValue, values["value"], filter)
	}
}

func help(m *metrics.Metric) string {
	h := m.Type.String() + " metric " + m.Name
	if m.Contains != metrics.Default {
		h += " (" + m.Contains.String() + ")"
	}
	return h
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{DisableCompression: true})
}

// Serve serves /metrics on addr until ctx ends.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	e.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
