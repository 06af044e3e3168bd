// Package output renders test runs: the live progress display, the
// end-of-test summary, the JSON report and the Prometheus exporter.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fatih/color"

	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA" // Move cursor up N lines
	clearLine = "\033[2K"  // Clear entire line
)

// Drawing characters
const (
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	dotLeader      = "."
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress tracking
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since test start
	Remaining time.Duration // Estimated time remaining

	// VU stats
	ActiveVUs int // VUs currently running an iteration or alive
	MaxVUs    int // VUs allocated

	// Iteration stats
	Iterations int64
	Dropped    int64

	// Request stats
	CurrentRPS    float64 // Requests per second since the start
	TotalRequests int64   // Total requests completed
	Errors        int64   // Total failed requests
	ErrorRate     float64 // Error rate (0.0 to 1.0)

	// Latency stats
	LatencyP95 time.Duration
	LatencyAvg time.Duration

	// Stage info for single-scenario runs
	CurrentStage int // Current stage number (1-indexed)
	TotalStages  int
	StageName    string
}

// palette holds the colors of one console. Colors are enabled or disabled
// per instance so that a file writer never receives escape codes.
type palette struct {
	bold    *color.Color
	dim     *color.Color
	green   *color.Color
	yellow  *color.Color
	red     *color.Color
	cyan    *color.Color
	blue    *color.Color
	magenta *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		cyan:    color.New(color.FgCyan),
		blue:    color.New(color.FgBlue),
		magenta: color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.bold, p.dim, p.green, p.yellow, p.red, p.cyan, p.blue, p.magenta} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// ConsoleOutput manages console output during and after a run.
type ConsoleOutput struct {
	testName string
	writer   io.Writer
	isTTY    bool
	quiet    bool
	colors   palette

	// State
	mu          sync.Mutex
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName    string
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName: config.TestName,
		writer:   config.Writer,
		isTTY:    isTTY,
		quiet:    config.Quiet,
		colors:   newPalette(useColors),
	}
}

// IsTerminal checks if the writer is a terminal.
func IsTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(runID string, scenarios []string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running", c.testName))
	c.writeln(c.colors.dim.Sprintf("run %s", runID))
	if len(scenarios) > 0 {
		c.writeln(fmt.Sprintf("scenarios: %s", strings.Join(scenarios, ", ")))
	}
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln("")
}

// Update redraws the live progress display. It does nothing unless the
// output is a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := formatDuration(stats.Elapsed)
	if stats.Remaining > 0 {
		timeInfo += " / " + formatDuration(stats.Elapsed+stats.Remaining)
	}
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.green.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.bold.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	if stats.TotalStages > 0 {
		stage := fmt.Sprintf("%d/%d", stats.CurrentStage, stats.TotalStages)
		if stats.StageName != "" {
			stage = stats.StageName + " (" + stage + ")"
		}
		lines = append(lines, "Stage:    "+c.colors.magenta.Sprint(stage))
	}

	errColor := c.colors.green
	if stats.ErrorRate > 0.01 {
		errColor = c.colors.yellow
	}
	if stats.ErrorRate > 0.05 {
		errColor = c.colors.red
	}

	lines = append(lines,
		fmt.Sprintf("VUs: %s/%d | Iterations: %s | Dropped: %s",
			c.colors.cyan.Sprint(stats.ActiveVUs), stats.MaxVUs,
			c.colors.cyan.Sprint(formatNumber(stats.Iterations)),
			formatNumber(stats.Dropped)),
		fmt.Sprintf("Reqs: %s | RPS: %s | Errors: %s | P95: %s | Avg: %s",
			c.colors.cyan.Sprint(formatNumber(stats.TotalRequests)),
			c.colors.green.Sprintf("%.1f", stats.CurrentRPS),
			errColor.Sprintf("%d (%.1f%%)", stats.Errors, stats.ErrorRate*100),
			c.colors.blue.Sprint(formatDurationShort(stats.LatencyP95)),
			c.colors.blue.Sprint(formatDurationShort(stats.LatencyAvg))),
	)
	return lines
}

// PrintNonInteractiveUpdate prints a one-line status update. Used when
// output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Iters: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.Iterations,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the end-of-test summary: thresholds, then every
// metric with its submetrics.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.green.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.red.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.green.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.red.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.bold.Sprint(displayName(result)), status))
	c.writeln(c.colors.cyan.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.cyan.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.cyan.Sprint(formatNumber(result.Summary.Iterations))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.cyan.Sprint(formatNumber(result.Summary.Requests))))
	c.writeln(fmt.Sprintf("Failure Rate:  %s", c.failureColor(result.Summary.FailureRate).Sprintf("%.2f%%", result.Summary.FailureRate*100)))
	if result.Summary.DroppedIterations > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", c.colors.yellow.Sprint(formatNumber(result.Summary.DroppedIterations))))
	}
	if result.Aborted {
		c.writeln(fmt.Sprintf("Aborted:       %s", c.colors.red.Sprint(result.AbortReason)))
	}
	if result.Interrupted {
		c.writeln(fmt.Sprintf("Interrupted:   %s", c.colors.yellow.Sprint("run cancelled")))
	}
	c.writeln("")

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			c.writeln("  " + c.formatThreshold(t))
		}
		c.writeln("")
	}

	if len(result.Scenarios) > 1 {
		c.writeln(c.colors.bold.Sprint("Scenarios:"))
		for _, sc := range result.Scenarios {
			c.writeln("  " + formatScenario(sc))
		}
		c.writeln("")
	}

	c.writeln(c.colors.bold.Sprint("Metrics:"))
	for _, row := range metricRows(result) {
		c.writeln(row)
	}
	c.writeln("")
}

func displayName(result *engine.TestResult) string {
	if result.Name != "" {
		return result.Name
	}
	return "surge"
}

func (c *ConsoleOutput) failureColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return c.colors.red
	case rate > 0.01:
		return c.colors.yellow
	default:
		return c.colors.green
	}
}

// formatThreshold renders "✓ http_req_duration p(95)<300 (observed 123.45ms)".
func (c *ConsoleOutput) formatThreshold(t threshold.Result) string {
	mark := c.colors.green.Sprint("✓")
	if !t.Passed {
		mark = c.colors.red.Sprint("✗")
	}
	s := fmt.Sprintf("%s %s %s (observed %s)", mark, t.Metric, t.Expression, formatObserved(t))
	if t.AbortOnFail {
		s += c.colors.dim.Sprint(" [abortOnFail]")
	}
	return s
}

func formatObserved(t threshold.Result) string {
	switch t.Stat {
	case "rate":
		return formatFloat(t.Observed)
	case "count":
		if t.Contains == metrics.Data {
			return formatBytes(t.Observed)
		}
		return formatFloat(t.Observed)
	default:
		return formatValue(t.Observed, t.Contains)
	}
}

func formatScenario(sc *engine.ScenarioResult) string {
	if sc.Skipped {
		return fmt.Sprintf("%s [%s]: skipped", sc.Name, sc.Executor)
	}
	s := fmt.Sprintf("%s [%s]: %d iterations in %s, max %d VUs",
		sc.Name, sc.Executor, sc.Iterations, formatDuration(sc.Duration), sc.MaxVUs)
	if sc.InterruptedIterations > 0 {
		s += fmt.Sprintf(", %d interrupted", sc.InterruptedIterations)
	}
	if sc.DroppedIterations > 0 {
		s += fmt.Sprintf(", %d dropped", sc.DroppedIterations)
	}
	return s
}

// metricRows renders one dot-leader row per metric with samples, followed
// by indented rows for its submetrics.
func metricRows(result *engine.TestResult) []string {
	type row struct {
		label, value string
	}
	var rows []row
	for _, m := range result.Metrics {
		if !hasSamples(m.MetricType(), m.Values) {
			continue
		}
		rows = append(rows, row{m.Name, formatMetricValues(m.MetricType(), m.ValueType(), m.Values)})

		subs := append([]*engine.SubmetricSummary(nil), m.Submetrics...)
		sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
		for _, sm := range subs {
			if !hasSamples(m.MetricType(), sm.Values) {
				continue
			}
			rows = append(rows, row{"  { " + sm.Tags.String() + " }", formatMetricValues(m.MetricType(), m.ValueType(), sm.Values)})
		}
	}

	width := 0
	for _, r := range rows {
		if n := len([]rune(r.label)); n > width {
			width = n
		}
	}
	width += 3

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		pad := width - len([]rune(r.label))
		out = append(out, "  "+r.label+strings.Repeat(dotLeader, pad)+": "+r.value)
	}
	return out
}

func hasSamples(typ metrics.Type, values map[string]float64) bool {
	switch typ {
	case metrics.TypeCounter:
		return values["count"] > 0
	case metrics.TypeRate:
		return values["passes"]+values["fails"] > 0
	case metrics.TypeTrend:
		return values["count"] > 0
	default:
		return values["max"] > 0 || values["value"] > 0
	}
}

// formatMetricValues renders a metric's summary the way its type reads
// best: counters as total and per-second rate, rates as a percentage with
// pass and fail counts, trends as their statistics.
func formatMetricValues(typ metrics.Type, contains metrics.ValueType, values map[string]float64) string {
	switch typ {
	case metrics.TypeCounter:
		if contains == metrics.Data {
			return fmt.Sprintf("%s %s/s", formatBytes(values["count"]), formatBytes(values["rate"]))
		}
		return fmt.Sprintf("%s %s/s", formatFloat(values["count"]), formatFloat(values["rate"]))
	case metrics.TypeRate:
		return fmt.Sprintf("%.2f%% ✓ %d ✗ %d", values["rate"]*100, int64(values["passes"]), int64(values["fails"]))
	case metrics.TypeTrend:
		parts := make([]string, 0, len(metrics.TrendStats))
		for _, stat := range metrics.TrendStats {
			parts = append(parts, stat+"="+formatValue(values[stat], contains))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("value=%s min=%s max=%s",
			formatValue(values["value"], contains),
			formatValue(values["min"], contains),
			formatValue(values["max"], contains))
	}
}

// formatValue renders a sample value according to what it measures.
func formatValue(v float64, contains metrics.ValueType) string {
	switch contains {
	case metrics.Time:
		return formatMillis(v)
	case metrics.Data:
		return formatBytes(v)
	default:
		return formatFloat(v)
	}
}

// formatMillis renders fractional milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0s"
	case ms < 1:
		return trimFloat(ms*1000) + "µs"
	case ms < 1000:
		return trimFloat(ms) + "ms"
	case ms < 60000:
		return trimFloat(ms/1000) + "s"
	default:
		return formatDuration(time.Duration(ms * float64(time.Millisecond)))
	}
}

// trimFloat renders v with at most two decimals and no trailing zeros.
func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func formatBytes(v float64) string {
	if v <= 0 {
		return "0B"
	}
	return bytefmt.ByteSize(uint64(v))
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, empty) + "]"
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
