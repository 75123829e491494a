package resolve

import (
	"fmt"

	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/spf13/cobra"
)

// Cmd represents the resolve command.
var Cmd = NewCommand()

// NewCommand returns a new resolve command instance.
func NewCommand() *cobra.Command {
	var showStrategy bool

	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Print the module path and import root of a Python file",
		Long: `Print the dotted module path of a Python source file and the import root it
was computed from, separated by a tab. A file that cannot be placed in any
import hierarchy prints an empty module and its own path as the root.

Examples:
  pybrowse resolve proj/pkg/sub.py
  pybrowse resolve --strategy ~/scripts/tool.py`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.Setup(cmd)
			if err != nil {
				return err
			}
			b, err := app.NewBrowser(cmd.Context(), settings)
			if err != nil {
				return err
			}

			res, err := b.Resolve(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}

			line := res.Module + "\t" + res.Root
			if showStrategy {
				line += "\t" + strategyLabel(res.Strategy)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}

	cmd.Flags().BoolVarP(&showStrategy, "strategy", "s", false, "Also print the strategy that found the import root")

	return cmd
}

func strategyLabel(strategy string) string {
	if strategy == "" {
		return "unresolved"
	}
	return strategy
}
