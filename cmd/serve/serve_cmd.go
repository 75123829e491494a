package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/LegacyCodeHQ/pybrowse/internal/config"
	"github.com/LegacyCodeHQ/pybrowse/rpc"
	"github.com/spf13/cobra"
)

// Cmd represents the serve command.
var Cmd = NewCommand()

// NewCommand returns a new serve command instance.
func NewCommand() *cobra.Command {
	defaults := config.DefaultSettings()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve symbol descriptions over JSON-RPC",
		Long: `Listen for JSON-RPC 2.0 requests framed with Content-Length headers.

The bound port is printed on a single line to stdout once the server is
listening, so an editor can start pybrowse with --port 0 and read the port
back. Methods: describe (alias get_descriptions), resolve, modules, methods.

Examples:
  pybrowse serve
  pybrowse serve --address 127.0.0.1 --port 9123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := app.Setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return Run(ctx, cmd.OutOrStdout(), settings)
		},
	}

	cmd.Flags().String("address", defaults.Address, "Address to listen on")
	cmd.Flags().Int("port", defaults.Port, "Port to listen on (0 picks a free port)")

	return cmd
}

// Run serves until ctx is done. The bound port is written to out as soon as
// the listener is ready.
func Run(ctx context.Context, out io.Writer, settings config.Settings) error {
	b, err := app.NewBrowser(ctx, settings)
	if err != nil {
		return err
	}

	srv := rpc.NewServer(rpc.Config{Host: settings.Address, Port: settings.Port}, b)
	if err := srv.Listen(ctx); err != nil {
		return err
	}
	defer srv.Close()

	if _, err := fmt.Fprintln(out, srv.Port()); err != nil {
		return err
	}

	err = srv.Serve(ctx)
	if errors.Is(err, rpc.ErrServerClosed) {
		return nil
	}
	return err
}
