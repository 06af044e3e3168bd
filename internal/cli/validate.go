package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/scripts"
)

func newValidateCmd(app *App) *cobra.Command {
	var scriptName string

	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a run configuration without running it",
		Long: `Load and validate a run configuration. With --script the config is
also combined with that script's defaults, the way run would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}
			cfg.ApplyEnv(app.LookupEnv)
			if err := cfg.Validate(); err != nil {
				return err
			}

			if scriptName != "" {
				s, err := scripts.Get(scriptName)
				if err != nil {
					return err
				}
				opts, err := scripts.Build(s, cfg, scripts.Overrides{}, zap.NewNop())
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Stdout, "%s: valid for script %s (%d scenario(s))\n", args[0], s.Name, len(opts.Scenarios))
				return nil
			}

			fmt.Fprintf(app.Stdout, "%s: valid\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&scriptName, "script", "s", "", "Also check the config against a script")
	return cmd
}
