// Package app wires settings into the services the commands run.
package app

import (
	"context"
	"fmt"

	"github.com/LegacyCodeHQ/pybrowse/browser"
	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/internal/config"
	"github.com/LegacyCodeHQ/pybrowse/internal/logging"
	"github.com/LegacyCodeHQ/pybrowse/internal/pyenv"
	"github.com/LegacyCodeHQ/pybrowse/symbols"
	"github.com/spf13/cobra"
)

// ConfigFlag names the persistent flag holding an explicit config file.
const ConfigFlag = "config"

// Setup loads settings for cmd from its flags, the environment and any config
// file, and points logging at the command's error stream.
func Setup(cmd *cobra.Command) (config.Settings, error) {
	var configFile string
	if flag := cmd.Flags().Lookup(ConfigFlag); flag != nil {
		configFile = flag.Value.String()
	}

	settings, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return config.Settings{}, err
	}

	logging.Configure(cmd.ErrOrStderr(), settings.Verbose)
	if settings.ConfigFile != "" {
		logging.Debug("loaded config", "file", settings.ConfigFile)
	}
	return settings, nil
}

// SearchPath returns the configured search path followed by the sys.path of
// the configured interpreter, if any.
func SearchPath(ctx context.Context, settings config.Settings) ([]string, error) {
	searchPath := append([]string(nil), settings.SearchPath...)
	if settings.Python == "" {
		return searchPath, nil
	}

	sysPath, err := pyenv.SysPath(ctx, settings.Python)
	if err != nil {
		return nil, fmt.Errorf("failed to read sys.path: %w", err)
	}
	logging.Debug("appending interpreter sys.path", "python", settings.Python, "entries", len(sysPath))
	return append(searchPath, sysPath...), nil
}

// NewBrowser builds a Browser reading the filesystem.
func NewBrowser(ctx context.Context, settings config.Settings) (*browser.Browser, error) {
	searchPath, err := SearchPath(ctx, settings)
	if err != nil {
		return nil, err
	}

	f, err := finder.New(finder.Options{
		SearchPath:     searchPath,
		ProjectMarkers: settings.ProjectMarkers,
	})
	if err != nil {
		return nil, err
	}
	return browser.New(f, symbols.NewExtractor(nil)), nil
}
