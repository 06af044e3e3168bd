package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/scripts"
)

func newScriptsCmd(app *App) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "List the built-in scripts",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(app.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEXECUTOR\tDESCRIPTION")
			for _, s := range scripts.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, executorsOf(s), s.Description)
				if !verbose {
					continue
				}
				for _, line := range thresholdLines(s) {
					fmt.Fprintf(w, "\t\t  %s\n", line)
				}
			}
			w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show default thresholds")
	return cmd
}

func executorsOf(s *scripts.Script) string {
	seen := map[string]bool{}
	var out []string
	for _, sc := range s.Scenarios {
		if sc != nil && !seen[sc.Executor] {
			seen[sc.Executor] = true
			out = append(out, sc.Executor)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func thresholdLines(s *scripts.Script) []string {
	keys := make([]string, 0, len(s.Thresholds))
	for k := range s.Thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		exprs := make([]string, 0, len(s.Thresholds[k]))
		for _, d := range s.Thresholds[k] {
			exprs = append(exprs, d.Threshold)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", k, strings.Join(exprs, ", ")))
	}
	return lines
}
