package watch

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/LegacyCodeHQ/pybrowse/browser"
	"github.com/LegacyCodeHQ/pybrowse/cmd/describe"
	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/LegacyCodeHQ/pybrowse/internal/logging"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	format     string
	moduleOnly bool
}

// Cmd represents the watch command.
var Cmd = NewCommand()

// NewCommand returns a new watch command instance.
func NewCommand() *cobra.Command {
	opts := &watchOptions{format: describe.FormatText}

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Describe a Python file again whenever its package changes",
		Long: `Print the symbols reachable from a Python source file, then watch the
directories of its top-level package and print them again after every change
to a .py file. Each listing ends with an empty line.

Examples:
  pybrowse watch proj/pkg/sub.py
  pybrowse watch --format json proj/pkg/sub.py`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "Output format (text, json)")
	cmd.Flags().BoolVarP(&opts.moduleOnly, "module-only", "m", false, "Describe only the resolved module, not its whole package")

	return cmd
}

func runWatch(cmd *cobra.Command, path string, opts *watchOptions) error {
	settings, err := app.Setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := app.NewBrowser(ctx, settings)
	if err != nil {
		return err
	}

	target, err := watchTargetFor(b, path)
	if err != nil {
		return err
	}

	refresh := newRefresher(cmd.OutOrStdout(), b, path, describe.Options{
		Format:     opts.format,
		ModuleOnly: opts.moduleOnly,
	})
	if err := refresh.run(); err != nil {
		return err
	}

	logging.Info("watching for changes", "dir", target.dir, "recursive", target.recursive)

	return watchAndRefresh(ctx, target.dir, target.recursive, refresh.runLogged)
}

// watchTarget is the directory whose changes can alter the output for a path.
type watchTarget struct {
	dir       string
	recursive bool
}

// watchTargetFor returns the top-level package directory of path, or just the
// directory holding path when it is a top-level module or unresolvable.
func watchTargetFor(b *browser.Browser, path string) (watchTarget, error) {
	res, err := b.Resolve(path)
	if err != nil {
		return watchTarget{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	top, _, nested := strings.Cut(res.Module, ".")
	if !nested {
		return watchTarget{dir: filepath.Dir(res.Path.String())}, nil
	}
	return watchTarget{dir: filepath.Join(res.Root, top), recursive: true}, nil
}

// refresher prints the description of one path. Runs are serialized.
type refresher struct {
	mu   sync.Mutex
	out  io.Writer
	b    *browser.Browser
	path string
	opts describe.Options
}

func newRefresher(out io.Writer, b *browser.Browser, path string, opts describe.Options) *refresher {
	return &refresher{out: out, b: b, path: path, opts: opts}
}

func (r *refresher) run() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := describe.Run(r.out, r.b, r.path, r.opts); err != nil {
		return err
	}
	_, err := fmt.Fprintln(r.out)
	return err
}

func (r *refresher) runLogged() {
	if err := r.run(); err != nil {
		logging.Error("refresh failed", "path", r.path, "error", err)
	}
}
