package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sink accumulates the samples of one metric or submetric.
type Sink interface {
	// Add records a single sample value.
	Add(value float64)

	// Summary returns the sink's statistics keyed by stat name
	// ("count", "rate", "avg", "p(95)", ...). elapsed is the run time used
	// for per-second rates.
	Summary(elapsed time.Duration) map[string]float64
}

func newSink(t Type) Sink {
	switch t {
	case TypeCounter:
		return &CounterSink{}
	case TypeGauge:
		return &GaugeSink{}
	case TypeRate:
		return &RateSink{}
	case TypeTrend:
		return NewTrendSink()
	default:
		panic("metrics: unknown metric type " + t.String())
	}
}

// CounterSink is a monotonic sum.
//
// The float64 total is stored as its bit pattern and updated with a
// compare-and-swap loop, so concurrent Adds never lose an update.
type CounterSink struct {
	bits    atomic.Uint64
	samples atomic.Int64
}

// Add adds value to the total. Negative values are ignored.
func (c *CounterSink) Add(value float64) {
	if value < 0 || math.IsNaN(value) {
		return
	}
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + value)
		if c.bits.CompareAndSwap(old, next) {
			break
		}
	}
	c.samples.Add(1)
}

// Count returns the accumulated total.
func (c *CounterSink) Count() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Rate returns the total divided by elapsed seconds.
func (c *CounterSink) Rate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return c.Count() / elapsed.Seconds()
}

// Summary implements Sink.
func (c *CounterSink) Summary(elapsed time.Duration) map[string]float64 {
	return map[string]float64{
		"count": c.Count(),
		"rate":  c.Rate(elapsed),
	}
}

// GaugeSink keeps the last value set along with the observed min and max.
type GaugeSink struct {
	mu    sync.Mutex
	value float64
	min   float64
	max   float64
	set   bool
}

// Add sets the current value.
func (g *GaugeSink) Add(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set || value < g.min {
		g.min = value
	}
	if !g.set || value > g.max {
		g.max = value
	}
	g.value = value
	g.set = true
}

// Value returns the last value set.
func (g *GaugeSink) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Max returns the largest value ever set.
func (g *GaugeSink) Max() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// Summary implements Sink.
func (g *GaugeSink) Summary(time.Duration) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]float64{
		"value": g.value,
		"min":   g.min,
		"max":   g.max,
	}
}

// RateSink tracks the fraction of non-zero samples.
type RateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

// Add records a boolean sample: any non-zero value counts as true.
func (r *RateSink) Add(value float64) {
	r.total.Add(1)
	if value != 0 {
		r.trues.Add(1)
	}
}

// AddBool records a boolean sample.
func (r *RateSink) AddBool(ok bool) {
	if ok {
		r.Add(1)
		return
	}
	r.Add(0)
}

// Rate returns trues/total, or 0 when no samples were recorded.
func (r *RateSink) Rate() float64 {
	total := r.total.Load()
	if total == 0 {
		return 0
	}
	return float64(r.trues.Load()) / float64(total)
}

// Passes returns the number of true samples.
func (r *RateSink) Passes() int64 {
	return r.trues.Load()
}

// Fails returns the number of false samples.
func (r *RateSink) Fails() int64 {
	return r.total.Load() - r.trues.Load()
}

// Total returns the number of samples.
func (r *RateSink) Total() int64 {
	return r.total.Load()
}

// Summary implements Sink.
func (r *RateSink) Summary(time.Duration) map[string]float64 {
	return map[string]float64{
		"rate":   r.Rate(),
		"passes": float64(r.Passes()),
		"fails":  float64(r.Fails()),
	}
}

const (
	// DefaultExactSamples is how many samples a TrendSink keeps verbatim
	// before switching to an HDR histogram.
	DefaultExactSamples = 10000

	// Histogram values are stored with three decimals of the sample unit
	// (microseconds for millisecond trends), from 1 up to one hour.
	histScale   = 1000
	histMin     = 1
	histMax     = 3600000000
	histSigFigs = 3
)

// TrendSink tracks a distribution of values.
//
// Up to the exact-sample limit every sample is kept and percentiles are
// exact, computed by linear interpolation between closest ranks. Past the
// limit the samples are replayed into an HDR histogram (3 significant
// figures), so percentile queries carry a relative error of at most 0.1%
// while memory stays bounded. Values outside the histogram range are clamped
// for percentile purposes. Count, sum, min and max are always exact.
type TrendSink struct {
	mu         sync.Mutex
	count      int64
	sum        float64
	min        float64
	max        float64
	samples    []float64
	sorted     bool
	hist       *hdrhistogram.Histogram
	exactLimit int
}

// NewTrendSink creates a trend sink with the default exact-sample limit.
func NewTrendSink() *TrendSink {
	return NewTrendSinkWithLimit(DefaultExactSamples)
}

// NewTrendSinkWithLimit creates a trend sink that keeps up to limit samples
// verbatim.
func NewTrendSinkWithLimit(limit int) *TrendSink {
	if limit < 1 {
		limit = 1
	}
	return &TrendSink{exactLimit: limit}
}

// Add records a sample.
func (t *TrendSink) Add(value float64) {
	if math.IsNaN(value) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.count++
	t.sum += value

	if t.hist != nil {
		t.record(value)
		return
	}

	t.samples = append(t.samples, value)
	t.sorted = false
	if len(t.samples) > t.exactLimit {
		t.spill()
	}
}

// spill moves the exact samples into a histogram.
func (t *TrendSink) spill() {
	t.hist = hdrhistogram.New(histMin, histMax, histSigFigs)
	for _, v := range t.samples {
		t.record(v)
	}
	t.samples = nil
	t.sorted = false
}

func (t *TrendSink) record(value float64) {
	scaled := int64(math.Round(value * histScale))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > histMax {
		scaled = histMax
	}
	_ = t.hist.RecordValue(scaled)
}

// Count returns the number of samples.
func (t *TrendSink) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Min returns the smallest sample, or 0 when empty.
func (t *TrendSink) Min() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min
}

// Max returns the largest sample, or 0 when empty.
func (t *TrendSink) Max() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

// Avg returns the mean, or 0 when empty.
func (t *TrendSink) Avg() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Med returns the 50th percentile.
func (t *TrendSink) Med() float64 {
	return t.Percentile(50)
}

// Percentile returns the p-th percentile (0-100), or 0 when empty.
func (t *TrendSink) Percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentile(p)
}

func (t *TrendSink) percentile(p float64) float64 {
	if t.count == 0 {
		return 0
	}
	if p <= 0 {
		return t.min
	}
	if p >= 100 {
		return t.max
	}

	if t.hist != nil {
		v := float64(t.hist.ValueAtQuantile(p)) / histScale
		return math.Min(math.Max(v, t.min), t.max)
	}

	if !t.sorted {
		sort.Float64s(t.samples)
		t.sorted = true
	}
	return interpolate(t.samples, p)
}

// interpolate returns the p-th percentile of sorted using linear
// interpolation between the closest ranks: rank = p/100 * (n-1).
func interpolate(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	if lower >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// Approximate reports whether percentile queries come from the histogram.
func (t *TrendSink) Approximate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hist != nil
}

// TrendStats lists the trend statistics included in summaries.
var TrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

// Summary implements Sink.
func (t *TrendSink) Summary(time.Duration) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	avg := 0.0
	if t.count > 0 {
		avg = t.sum / float64(t.count)
	}
	return map[string]float64{
		"avg":   avg,
		"min":   t.min,
		"med":   t.percentile(50),
		"max":   t.max,
		"p(90)": t.percentile(90),
		"p(95)": t.percentile(95),
		"p(99)": t.percentile(99),
		"count": float64(t.count),
	}
}
