// Command surge-target serves the mock API the built-in scripts run
// against. It is the same as "surge target".
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wesleyorama2/surge/internal/cli"
)

func main() {
	cmd := cli.NewTargetCmd(&cli.App{})
	cmd.Use = "surge-target"
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitSetupError)
	}
}
