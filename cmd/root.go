package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LegacyCodeHQ/pybrowse/cmd/describe"
	"github.com/LegacyCodeHQ/pybrowse/cmd/modules"
	"github.com/LegacyCodeHQ/pybrowse/cmd/resolve"
	"github.com/LegacyCodeHQ/pybrowse/cmd/serve"
	"github.com/LegacyCodeHQ/pybrowse/cmd/watch"
	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/LegacyCodeHQ/pybrowse/internal/config"
	"github.com/spf13/cobra"
)

// version is set via build-time ldflags
var version = "dev"

// buildDate is set via build-time ldflags
var buildDate = "unknown"

// commit is set via build-time ldflags
var commit = "unknown"

const (
	modeServer = "server"
	modeCLI    = "cli"
)

// rootOptions holds the flags of the bare pybrowse invocation.
type rootOptions struct {
	mode string
	path string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand(describe.Cmd, resolve.Cmd, modules.Cmd, serve.Cmd, watch.Cmd)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(subcommands ...*cobra.Command) *cobra.Command {
	opts := &rootOptions{mode: modeServer}
	defaults := config.DefaultSettings()

	cmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Map Python source files to module paths and list their symbols",
		Long: `pybrowse interprets a path to a Python source file as a dotted module path
inside its import hierarchy and lists the top-level classes and functions of
that module's package.

Without a subcommand pybrowse runs in --mode server, answering JSON-RPC
requests and printing the bound port, or in --mode cli, printing the symbols
reachable from --path one per line.

Use 'pybrowse --help' to see all available commands, or 'pybrowse <command> --help'
for detailed information about a specific command.`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, opts)
		},
	}

	cmd.Annotations = map[string]string{
		"buildDate": buildDate,
		"commit":    commit,
	}

	// Customize version template to show additional build info
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
Build date: {{printf "%s" (index .Annotations "buildDate")}}
Commit: {{printf "%s" (index .Annotations "commit")}}
`)

	persistent := cmd.PersistentFlags()
	persistent.String(app.ConfigFlag, "", "Config file (default: pybrowse.toml or .pybrowse.toml in the working directory)")
	persistent.StringArray("search-path", nil, "Trusted import root, may be repeated")
	persistent.String("python", "", "Python interpreter whose sys.path extends the search path")
	persistent.StringSlice("project-marker", defaults.ProjectMarkers, "File names marking a project root")
	persistent.BoolP("verbose", "v", false, "Enable debug logging on stderr")

	cmd.Flags().StringVar(&opts.mode, "mode", opts.mode, "Run mode (server, cli)")
	cmd.Flags().String("address", defaults.Address, "Address to listen on in server mode")
	cmd.Flags().Int("port", defaults.Port, "Port to listen on in server mode (0 picks a free port)")
	cmd.Flags().StringVar(&opts.path, "path", "", "Python source file to describe in cli mode")

	cmd.AddCommand(subcommands...)

	return cmd
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	switch opts.mode {
	case modeServer, modeCLI:
	default:
		return fmt.Errorf("unknown mode: %s (valid options: %s, %s)", opts.mode, modeServer, modeCLI)
	}
	if opts.mode == modeCLI && opts.path == "" {
		return errors.New("--path is required in cli mode")
	}

	settings, err := app.Setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.mode == modeServer {
		return serve.Run(ctx, cmd.OutOrStdout(), settings)
	}

	b, err := app.NewBrowser(ctx, settings)
	if err != nil {
		return err
	}
	return describe.Run(cmd.OutOrStdout(), b, opts.path, describe.Options{Format: describe.FormatText})
}
