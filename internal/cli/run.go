package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/output"
	"github.com/wesleyorama2/surge/internal/scripts"
)

// DefaultConfigPath is read when --config is not given. Unlike an
// explicit path it may be missing.
const DefaultConfigPath = "config.json"

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a load test script",
		Long: `Run a built-in load test script against the configured base URL.

Scenarios and thresholds from the config file replace the script's
defaults. --vus, --duration, --stages and --iterations then reshape the
first scenario. Every flag can also be set through a SURGE_ environment
variable, e.g. SURGE_VUS=20 or SURGE_BASE_URL=http://localhost:5000/api/v1.

Examples:
  surge run auth -c config.json
  surge run tasks --stages 30s:10,1m:10,30s:0
  surge run api-endpoints --vus 20 --duration 1m --out json=results.json`,
		Args: cobra.ExactArgs(1),
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", DefaultConfigPath, "Run configuration file (JSON or YAML)")
	flags.String("base-url", "", "Override the config's baseUrl")
	flags.Int("vus", 0, "Virtual users for the first scenario")
	flags.String("duration", "", "Duration of the first scenario (e.g. 30s, 5m)")
	flags.String("stages", "", "Ramping stages for the first scenario (e.g. 30s:10,1m:0)")
	flags.Int64("iterations", 0, "Iterations per VU; switches the first scenario to per-vu-iterations")
	flags.Float64("rps", 0, "Global request rate cap, 0 is unlimited")
	flags.Int64("seed", 0, "Seed for think time and user selection")
	flags.Float64("think-time-scale", 1, "Multiplier for script sleeps, 0 disables them")
	flags.StringSlice("out", nil, "Additional outputs: json=FILE or junit=FILE (- is stdout)")
	flags.String("summary-export", "", "Write the JSON report to a file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	flags.BoolP("quiet", "q", false, "Hide the header and progress output")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	flags.String("log-format", logging.FormatConsole, "Log format: console or json")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd.Flags())
		if err != nil {
			return err
		}
		return app.run(cmd.Context(), v, args[0])
	}
	return cmd
}

func (a *App) run(ctx context.Context, v *viper.Viper, scriptName string) error {
	logger, err := logging.New(logging.Options{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
		Color:  !v.GetBool("no-color") && output.IsTerminal(a.Stderr),
		Output: a.Stderr,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	script, err := scripts.Get(scriptName)
	if err != nil {
		return err
	}

	cfg, err := a.loadRunConfig(v)
	if err != nil {
		return err
	}

	ov, err := overridesFrom(v)
	if err != nil {
		return err
	}

	reports, err := reportPaths(v)
	if err != nil {
		return err
	}

	opts, err := scripts.Build(script, cfg, ov, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// the console moves to stderr when the report goes to stdout
	consoleOut := a.Stdout
	for _, r := range reports {
		if r.path == "-" {
			consoleOut = a.Stderr
		}
	}
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName: script.Name,
		Writer:   consoleOut,
		Quiet:    v.GetBool("quiet"),
		NoColor:  v.GetBool("no-color"),
	})
	console.PrintHeader(eng.RunID(), eng.ScenarioNames())

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := v.GetString("metrics-addr"); addr != "" {
		exporter := output.NewExporter(eng.Registry(), eng.RunID(), logger)
		go func() {
			if err := exporter.Serve(runCtx, addr); err != nil {
				logger.Error("metrics exporter failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	watchCtx, cancelWatch := context.WithCancel(runCtx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		console.Watch(watchCtx, eng, time.Second)
	}()

	result, runErr := eng.Run(runCtx)
	cancelWatch()
	<-watchDone
	if result == nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	console.PrintSummary(result)

	for _, r := range reports {
		if err := a.writeReport(r, result); err != nil {
			return err
		}
	}

	if err := runOutcome(result); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

// runOutcome maps a finished run to its exit code.
func runOutcome(result *engine.TestResult) error {
	switch {
	case !result.Passed:
		failed := result.FailedThresholds()
		if result.Aborted {
			return withExitCode(ExitThresholdsFailed, fmt.Errorf("run aborted: %s", result.AbortReason))
		}
		return withExitCode(ExitThresholdsFailed, fmt.Errorf("%d threshold(s) failed", len(failed)))
	case result.Interrupted:
		return withExitCode(ExitInterrupted, errors.New("run interrupted"))
	}
	return nil
}

func (a *App) loadRunConfig(v *viper.Viper) (*config.TestConfig, error) {
	path := v.GetString("config")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || v.IsSet("config") {
			return nil, err
		}
		// no config file, flags and env only
		cfg = &config.TestConfig{}
		cfg.ApplyDefaults()
	}

	if u := v.GetString("base-url"); u != "" {
		cfg.BaseURL = u
	}
	cfg.ApplyEnv(a.LookupEnv)
	if v.IsSet("rps") {
		cfg.Settings.RPS = v.GetFloat64("rps")
	}
	if v.IsSet("seed") {
		cfg.Settings.Seed = v.GetInt64("seed")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overridesFrom(v *viper.Viper) (scripts.Overrides, error) {
	ov := scripts.Overrides{
		VUs:        v.GetInt("vus"),
		Iterations: v.GetInt64("iterations"),
	}
	if ov.VUs < 0 {
		return ov, fmt.Errorf("--vus must not be negative")
	}
	if ov.Iterations < 0 {
		return ov, fmt.Errorf("--iterations must not be negative")
	}

	if d := v.GetString("duration"); d != "" {
		dur, err := config.ParseDurationString(d)
		if err != nil {
			return ov, fmt.Errorf("invalid --duration: %w", err)
		}
		if dur <= 0 {
			return ov, fmt.Errorf("--duration must be positive")
		}
		ov.Duration = dur
	}

	stages, err := scripts.ParseStages(v.GetString("stages"))
	if err != nil {
		return ov, fmt.Errorf("invalid --stages: %w", err)
	}
	ov.Stages = stages

	if v.IsSet("think-time-scale") {
		scale := v.GetFloat64("think-time-scale")
		if scale < 0 {
			return ov, fmt.Errorf("--think-time-scale must not be negative")
		}
		ov.ThinkTimeScale = &scale
	}
	return ov, nil
}

// report is one --out destination.
type report struct {
	kind string
	path string
}

// reportPaths collects report destinations from --out and
// --summary-export.
func reportPaths(v *viper.Viper) ([]report, error) {
	var reports []report
	for _, o := range v.GetStringSlice("out") {
		kind, path, found := strings.Cut(o, "=")
		if kind != "json" && kind != "junit" {
			return nil, fmt.Errorf("unsupported output %q: use json=FILE or junit=FILE", o)
		}
		if !found || path == "" {
			return nil, fmt.Errorf("output %q needs a file, e.g. %s=results", o, kind)
		}
		reports = append(reports, report{kind: kind, path: path})
	}
	if p := v.GetString("summary-export"); p != "" {
		reports = append(reports, report{kind: "json", path: p})
	}
	return reports, nil
}

func (a *App) writeReport(r report, result *engine.TestResult) error {
	switch {
	case r.kind == "junit" && r.path == "-":
		return output.WriteJUnit(a.Stdout, result)
	case r.kind == "junit":
		return output.WriteJUnitFile(r.path, result)
	case r.path == "-":
		return output.WriteJSON(a.Stdout, result)
	}
	return output.WriteJSONFile(r.path, result)
}
