package describe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/LegacyCodeHQ/pybrowse/browser"
	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/internal/app"
	"github.com/LegacyCodeHQ/pybrowse/rpc"
	"github.com/spf13/cobra"
)

// connectTimeout bounds a --connect round trip.
const connectTimeout = 30 * time.Second

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options controls what describe prints.
type Options struct {
	Format     string
	ModuleOnly bool
}

// Cmd represents the describe command.
var Cmd = NewCommand()

// NewCommand returns a new describe command instance.
func NewCommand() *cobra.Command {
	opts := &Options{Format: FormatText}
	var connect string

	cmd := &cobra.Command{
		Use:   "describe <path>",
		Short: "List the classes and functions reachable from a Python file",
		Long: `Resolve a Python source file to its module and list the top-level classes
and functions of every module in its top-level package.

The text format prints one fully qualified name per line. The json format
prints the descriptors with module, name, file, lineno and fullname.

Examples:
  pybrowse describe proj/pkg/sub.py
  pybrowse describe --module-only proj/pkg/sub.py
  pybrowse describe --format json proj/pkg/sub.py
  pybrowse describe --connect localhost:9123 proj/pkg/sub.py`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.Setup(cmd)
			if err != nil {
				return err
			}
			if connect != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
				defer cancel()
				return RunRemote(ctx, cmd.OutOrStdout(), connect, args[0], *opts)
			}
			b, err := app.NewBrowser(cmd.Context(), settings)
			if err != nil {
				return err
			}
			return Run(cmd.OutOrStdout(), b, args[0], *opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", opts.Format, "Output format (text, json)")
	cmd.Flags().BoolVarP(&opts.ModuleOnly, "module-only", "m", false, "Describe only the resolved module, not its whole package")
	cmd.Flags().StringVar(&connect, "connect", "", "Ask a running pybrowse server at host:port instead of reading the filesystem")

	return cmd
}

// Run writes the descriptors reachable from path to w.
func Run(w io.Writer, b *browser.Browser, path string, opts Options) error {
	seq := b.Describe(path)
	if opts.ModuleOnly {
		seq = b.DescribeModule(path)
	}
	return write(w, seq, opts.Format)
}

// RunRemote asks the server at addr to describe path and writes the result
// to w. A relative path is made absolute here, not on the server.
func RunRemote(ctx context.Context, w io.Writer, addr, path string, opts Options) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}

	if path != "" {
		normalizer, err := finder.NewPathNormalizer("")
		if err != nil {
			return err
		}
		abs, err := normalizer.Normalize(finder.RawPath(path))
		if err != nil {
			return err
		}
		path = abs.String()
	}

	client, err := rpc.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	var descs []browser.Descriptor
	params := rpc.PathParams{Path: path, ModuleOnly: opts.ModuleOnly}
	if err := client.Call(ctx, rpc.MethodDescribe, params, &descs); err != nil {
		return fmt.Errorf("describe via %s: %w", addr, err)
	}
	return write(w, fromSlice(descs), opts.Format)
}

func fromSlice(descs []browser.Descriptor) iter.Seq2[browser.Descriptor, error] {
	return func(yield func(browser.Descriptor, error) bool) {
		for _, desc := range descs {
			if !yield(desc, nil) {
				return
			}
		}
	}
}

func checkFormat(format string) error {
	switch format {
	case FormatText, FormatJSON, "":
		return nil
	default:
		return fmt.Errorf("unknown output format: %s (valid options: %s, %s)", format, FormatText, FormatJSON)
	}
}

func write(w io.Writer, seq iter.Seq2[browser.Descriptor, error], format string) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	switch format {
	case FormatText, "":
		return writeText(w, seq)
	default:
		return writeJSON(w, seq)
	}
}

func writeText(w io.Writer, seq iter.Seq2[browser.Descriptor, error]) error {
	for desc, err := range seq {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, desc.Fullname); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, seq iter.Seq2[browser.Descriptor, error]) error {
	descs, err := browser.Collect(seq)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(descs); err != nil {
		return fmt.Errorf("failed to generate JSON: %w", err)
	}
	return nil
}
