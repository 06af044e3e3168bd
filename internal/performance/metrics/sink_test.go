package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestCounterSink_ConcurrentAdds(t *testing.T) {
	const (
		workers = 64
		adds    = 1000
	)

	sink := &CounterSink{}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < adds; i++ {
				sink.Add(float64(w%3 + 1))
			}
		}(w)
	}
	wg.Wait()

	want := 0.0
	for w := 0; w < workers; w++ {
		want += float64((w%3 + 1) * adds)
	}
	if got := sink.Count(); got != want {
		t.Errorf("Count() = %v, want %v", got, want)
	}
}

func TestCounterSink_Rate(t *testing.T) {
	sink := &CounterSink{}
	sink.Add(10)
	sink.Add(20)

	if got := sink.Rate(10 * time.Second); got != 3 {
		t.Errorf("Rate(10s) = %v, want 3", got)
	}
	if got := sink.Rate(0); got != 0 {
		t.Errorf("Rate(0) = %v, want 0", got)
	}
}

func TestCounterSink_IgnoresNegative(t *testing.T) {
	sink := &CounterSink{}
	sink.Add(5)
	sink.Add(-3)

	if got := sink.Count(); got != 5 {
		t.Errorf("Count() = %v, want 5", got)
	}
}

func TestRateSink(t *testing.T) {
	tests := []struct {
		name    string
		samples []bool
		want    float64
	}{
		{"empty", nil, 0},
		{"all true", []bool{true, true, true}, 1},
		{"all false", []bool{false, false}, 0},
		{"mixed", []bool{true, false, true, true}, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &RateSink{}
			for _, s := range tt.samples {
				sink.AddBool(s)
			}
			if got := sink.Rate(); got != tt.want {
				t.Errorf("Rate() = %v, want %v", got, tt.want)
			}
			if got := sink.Total(); got != int64(len(tt.samples)) {
				t.Errorf("Total() = %v, want %v", got, len(tt.samples))
			}
		})
	}
}

func TestRateSink_ConcurrentAdds(t *testing.T) {
	sink := &RateSink{}
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sink.AddBool(i%4 != 0)
			}
		}()
	}
	wg.Wait()

	if got := sink.Rate(); got != 0.75 {
		t.Errorf("Rate() = %v, want 0.75", got)
	}
	if got := sink.Fails(); got != 2500 {
		t.Errorf("Fails() = %v, want 2500", got)
	}
}

func TestGaugeSink(t *testing.T) {
	sink := &GaugeSink{}
	for _, v := range []float64{3, 9, 1, 5} {
		sink.Add(v)
	}

	summary := sink.Summary(0)
	if summary["value"] != 5 {
		t.Errorf("value = %v, want 5", summary["value"])
	}
	if summary["min"] != 1 {
		t.Errorf("min = %v, want 1", summary["min"])
	}
	if summary["max"] != 9 {
		t.Errorf("max = %v, want 9", summary["max"])
	}
}

func TestTrendSink_ExactPercentiles(t *testing.T) {
	sink := NewTrendSink()
	for v := 100; v <= 1000; v += 100 {
		sink.Add(float64(v))
	}

	tests := []struct {
		p    float64
		want float64
	}{
		{50, 550},
		{90, 910},
		{95, 955},
		{0, 100},
		{100, 1000},
	}
	for _, tt := range tests {
		if got := sink.Percentile(tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := sink.Avg(); got != 550 {
		t.Errorf("Avg() = %v, want 550", got)
	}
	if got := sink.Min(); got != 100 {
		t.Errorf("Min() = %v, want 100", got)
	}
	if got := sink.Max(); got != 1000 {
		t.Errorf("Max() = %v, want 1000", got)
	}
	if sink.Approximate() {
		t.Error("Approximate() = true for a small sample set")
	}
}

func TestTrendSink_Empty(t *testing.T) {
	sink := NewTrendSink()

	if got := sink.Percentile(95); got != 0 {
		t.Errorf("Percentile(95) = %v, want 0", got)
	}
	if got := sink.Avg(); got != 0 {
		t.Errorf("Avg() = %v, want 0", got)
	}
}

func TestTrendSink_SingleSample(t *testing.T) {
	sink := NewTrendSink()
	sink.Add(42)

	if got := sink.Percentile(99); got != 42 {
		t.Errorf("Percentile(99) = %v, want 42", got)
	}
}

func TestTrendSink_HistogramWithinError(t *testing.T) {
	sink := NewTrendSinkWithLimit(100)
	for i := 1; i <= 10000; i++ {
		sink.Add(float64(i) / 10)
	}

	if !sink.Approximate() {
		t.Fatal("Approximate() = false after exceeding the exact-sample limit")
	}
	if got := sink.Count(); got != 10000 {
		t.Errorf("Count() = %v, want 10000", got)
	}

	for _, tt := range []struct {
		p    float64
		want float64
	}{
		{50, 500},
		{95, 950},
		{99, 990},
	} {
		got := sink.Percentile(tt.p)
		if rel := math.Abs(got-tt.want) / tt.want; rel > 0.002 {
			t.Errorf("Percentile(%v) = %v, want %v within 0.2%%", tt.p, got, tt.want)
		}
	}

	if got := sink.Max(); got != 1000 {
		t.Errorf("Max() = %v, want exact 1000", got)
	}
}

func TestTrendSink_ConcurrentAdds(t *testing.T) {
	sink := NewTrendSink()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sink.Add(float64(i))
				_ = sink.Percentile(95)
			}
		}()
	}
	wg.Wait()

	if got := sink.Count(); got != 4000 {
		t.Errorf("Count() = %v, want 4000", got)
	}
}
