package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/mocktarget"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
)

// NewTargetCmd creates the command serving the mock target application.
func NewTargetCmd(app *App) *cobra.Command {
	app.init()
	return newTargetCmd(app)
}

func newTargetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Serve the mock API the built-in scripts run against",
		Long: `Serve an in-memory API with registration, login, profile, tasks,
notes and activities under ` + mocktarget.BasePath + `. Users from --config
are registered at startup so auth scripts can log in.`,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.String("addr", ":5000", "Listen address")
	flags.Duration("latency", 0, "Delay added to every response")
	flags.StringP("config", "c", "", "Run configuration whose users are registered at startup")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", logging.FormatConsole, "Log format: console or json")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd.Flags())
		if err != nil {
			return err
		}

		logger, err := logging.New(logging.Options{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
			Output: app.Stderr,
		})
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		var users []performance.User
		if path := v.GetString("config"); path != "" {
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			cfg.ApplyEnv(app.LookupEnv)
			users = cfg.Users
		}

		srv := mocktarget.New(mocktarget.Options{
			Users:   users,
			Latency: v.GetDuration("latency"),
			Logger:  logger.Named("target"),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := v.GetString("addr")
		fmt.Fprintf(app.Stderr, "mock target on %s%s (%d user(s))\n", addr, mocktarget.BasePath, len(users))
		return srv.ListenAndServe(ctx, addr)
	}
	return cmd
}
