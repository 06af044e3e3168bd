package performance

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// User is one entry of the credential pool.
type User struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// SharedData is the read-only data every VU of a run can see.
type SharedData struct {
	BaseURL string
	Users   []User
	Env     map[string]string
}

// RandomUser picks a user from the pool with r.
func (s *SharedData) RandomUser(r *rand.Rand) (User, bool) {
	if len(s.Users) == 0 {
		return User{}, false
	}
	return s.Users[r.Intn(len(s.Users))], true
}

// VUContext is the view of a VU handed to an IterationFunc.
type VUContext struct {
	vu        *VirtualUser
	iteration int64
}

// ID returns the VU id.
func (c *VUContext) ID() int { return c.vu.ID }

// Iteration returns the zero-based index of the current iteration.
func (c *VUContext) Iteration() int64 { return c.iteration }

// Scenario returns the scenario name.
func (c *VUContext) Scenario() string { return c.vu.Scenario }

// Shared returns the run's read-only data.
func (c *VUContext) Shared() *SharedData { return c.vu.shared }

// HTTP returns the VU's request client.
func (c *VUContext) HTTP() *http.Client { return c.vu.client }

// Rand returns the VU's random source.
func (c *VUContext) Rand() *rand.Rand { return c.vu.rand }

// Logger returns the VU's logger.
func (c *VUContext) Logger() *zap.Logger {
	return c.vu.logger.With(zap.Int64("iteration", c.iteration))
}

// Tags returns a copy of the tags attached to the VU's samples.
func (c *VUContext) Tags() metrics.Tags { return c.vu.tags.Clone() }

// Do executes a request through the VU's client.
func (c *VUContext) Do(ctx context.Context, req *http.Request) *http.Result {
	return c.vu.client.Do(ctx, req)
}

// Set stores a per-VU value that survives across iterations.
func (c *VUContext) Set(key string, value interface{}) { c.vu.SetData(key, value) }

// Get returns a per-VU value.
func (c *VUContext) Get(key string) (interface{}, bool) { return c.vu.GetData(key) }

// GetString returns a per-VU string value, or "" when absent.
func (c *VUContext) GetString(key string) string {
	v, ok := c.vu.GetData(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Delete removes a per-VU value.
func (c *VUContext) Delete(key string) { c.vu.ClearData(key) }

// Metric returns a registered custom metric, or nil.
func (c *VUContext) Metric(name string) *metrics.Metric {
	if c.vu.registry == nil {
		return nil
	}
	return c.vu.registry.Get(name)
}

// Record adds a sample to the named metric with the VU's tags merged with
// tags. Unknown metrics are ignored.
func (c *VUContext) Record(name string, value float64, tags metrics.Tags) {
	m := c.Metric(name)
	if m == nil {
		c.vu.logger.Debug("sample for unknown metric dropped", zap.String("metric", name))
		return
	}
	m.Add(value, c.vu.tags.Merge(tags))
}

// Sleep pauses the VU for d. It returns false if ctx ended first.
func (c *VUContext) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SleepBetween pauses the VU for a random duration in [min, max].
func (c *VUContext) SleepBetween(ctx context.Context, min, max time.Duration) bool {
	return c.Sleep(ctx, RandomDuration(c.vu.rand, min, max))
}

// RandomDuration returns a uniformly random duration in [min, max].
func RandomDuration(r *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Int63n(int64(max-min)+1))
}
