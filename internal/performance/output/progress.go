package output

import (
	"context"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// DefaultNonInteractiveInterval is how often a non-TTY console prints a
// status line.
const DefaultNonInteractiveInterval = 10 * time.Second

// StatsFromEngine creates LiveStats from a running engine.
func StatsFromEngine(eng *engine.Engine) *LiveStats {
	stats := &LiveStats{
		Progress: eng.GetProgress(),
		Elapsed:  eng.Elapsed(),
	}
	if stats.Progress > 0 && stats.Progress < 1 {
		stats.Remaining = time.Duration(float64(stats.Elapsed) * (1 - stats.Progress) / stats.Progress)
	}

	scenarioStats := eng.GetScenarioStats()
	for _, s := range scenarioStats {
		stats.ActiveVUs += s.ActiveVUs
		stats.MaxVUs += s.AllocatedVUs
		stats.Dropped += s.DroppedIterations
		if len(scenarioStats) == 1 && s.TotalStages > 0 {
			stats.CurrentStage = s.CurrentStage + 1
			stats.TotalStages = s.TotalStages
			stats.StageName = s.CurrentStageName
		}
	}

	m := eng.Metrics()
	if c, ok := m.Iterations.Sink.(*metrics.CounterSink); ok {
		stats.Iterations = int64(c.Count())
	}
	if c, ok := m.HTTPReqs.Sink.(*metrics.CounterSink); ok {
		stats.TotalRequests = int64(c.Count())
		stats.CurrentRPS = c.Rate(stats.Elapsed)
	}
	if r, ok := m.HTTPReqFailed.Sink.(*metrics.RateSink); ok {
		stats.Errors = r.Passes()
		stats.ErrorRate = r.Rate()
	}
	if t, ok := m.HTTPReqDuration.Sink.(*metrics.TrendSink); ok && t.Count() > 0 {
		stats.LatencyP95 = millisToDuration(t.Percentile(95))
		stats.LatencyAvg = millisToDuration(t.Avg())
	}
	return stats
}

func millisToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Watch renders progress for eng until ctx ends. On a terminal the live
// display is redrawn every interval; otherwise a status line is printed
// every DefaultNonInteractiveInterval.
func (c *ConsoleOutput) Watch(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	if !c.isTTY {
		interval = DefaultNonInteractiveInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := StatsFromEngine(eng)
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}
