package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK = 0

	// ExitSetupError covers usage, configuration and report errors
	ExitSetupError = 1

	// ExitThresholdsFailed means the run completed and a threshold failed
	ExitThresholdsFailed = 99

	// ExitInterrupted means the run was cancelled from outside
	ExitInterrupted = 105
)

// EnvPrefix prefixes the environment variables bound to flags, e.g.
// SURGE_VUS or SURGE_BASE_URL.
const EnvPrefix = "SURGE"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitSetupError
}

// App holds the streams and environment the commands run against.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv reads credential overrides, os.LookupEnv by default
	LookupEnv func(string) (string, bool)
}

func (a *App) init() {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.LookupEnv == nil {
		a.LookupEnv = os.LookupEnv
	}
}

// NewRootCmd creates the surge command tree.
func NewRootCmd(app *App) *cobra.Command {
	app.init()

	root := &cobra.Command{
		Use:     "surge",
		Short:   "A load testing tool with built-in scenario scripts",
		Version: version,
		Long: `Surge runs load test scripts against an HTTP API. Each script drives
virtual users through a scenario (constant VUs, ramping VUs, arrival
rate or fixed iterations), records k6-style metrics and checks them
against thresholds such as p(95)<300 or rate<0.01.

The exit code is 0 when every threshold passed and 99 when one failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	root.AddCommand(newRunCmd(app))
	root.AddCommand(newScriptsCmd(app))
	root.AddCommand(newValidateCmd(app))
	root.AddCommand(newTargetCmd(app))
	root.AddCommand(newVersionCmd(app))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return (&App{}).Execute(ctx, args)
}

// Execute runs the command line with the app's streams.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := NewRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(a.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// newViper binds a command's flags and their SURGE_* environment
// variables.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(app.Stdout, "surge %s\n", version)
		},
	}
}
