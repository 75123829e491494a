package modules

import (
	"fmt"
	"io"

	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/LegacyCodeHQ/pybrowse/modtree"
	"github.com/spf13/cobra"
)

type modulesOptions struct {
	tree     bool
	showRoot bool
}

// Cmd represents the modules command.
var Cmd = NewCommand()

// NewCommand returns a new modules command instance.
func NewCommand() *cobra.Command {
	opts := &modulesOptions{}

	cmd := &cobra.Command{
		Use:   "modules <path>",
		Short: "List the modules of the package a Python file belongs to",
		Long: `List every module of the top-level package that contains a Python source file,
one dotted module path per line in walk order.

With --tree the modules are printed as an indented package hierarchy.
Parents that are not modules themselves, such as directories without
__init__.py, end with a slash.

Examples:
  pybrowse modules proj/pkg/sub.py
  pybrowse modules --tree proj/pkg/sub.py`,
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

			modules, root, err := b.Modules(args[0])
			if err != nil {
				return fmt.Errorf("failed to list modules: %w", err)
			}
			return writeModules(cmd.OutOrStdout(), modules, root, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.tree, "tree", "t", false, "Print the modules as a package hierarchy")
	cmd.Flags().BoolVar(&opts.showRoot, "root", false, "Print the import root before the modules")

	return cmd
}

func writeModules(w io.Writer, modules []string, root string, opts *modulesOptions) error {
	if opts.showRoot {
		if _, err := fmt.Fprintf(w, "# %s\n", root); err != nil {
			return err
		}
	}

	if opts.tree {
		tree, err := modtree.Build(modules)
		if err != nil {
			return fmt.Errorf("failed to build module tree: %w", err)
		}
		return tree.Render(w)
	}

	for _, module := range modules {
		if module == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, module); err != nil {
			return err
		}
	}
	return nil
}
