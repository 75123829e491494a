// Package config loads pybrowse settings from defaults, an optional TOML
// file, PYBROWSE_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "pybrowse"
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "PYBROWSE"
	// ConfigFileName is the name of the config file looked up in the working
	// directory, without extension. A dot-prefixed variant is also accepted.
	ConfigFileName = "pybrowse"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

// Setting keys.
const (
	KeyAddress        = "address"
	KeyPort           = "port"
	KeySearchPath     = "search_path"
	KeyPython         = "python"
	KeyProjectMarkers = "project_markers"
	KeyVerbose        = "verbose"
)

// Flag names bound to setting keys when present on the flag set.
var flagKeys = map[string]string{
	"address":        KeyAddress,
	"port":           KeyPort,
	"search-path":    KeySearchPath,
	"python":         KeyPython,
	"project-marker": KeyProjectMarkers,
	"verbose":        KeyVerbose,
}

// Settings is the resolved configuration.
type Settings struct {
	Address        string   `mapstructure:"address"`
	Port           int      `mapstructure:"port"`
	SearchPath     []string `mapstructure:"-"`
	Python         string   `mapstructure:"python"`
	ProjectMarkers []string `mapstructure:"-"`
	Verbose        bool     `mapstructure:"verbose"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Address:        "localhost",
		Port:           0,
		ProjectMarkers: []string{"setup.py"},
	}
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config file. It must exist.
	ConfigFile string
	// WorkDir is searched for pybrowse.toml and .pybrowse.toml when ConfigFile
	// is empty. Empty means the working directory.
	WorkDir string
	// Flags are bound to their setting keys. Flags the set does not define are
	// skipped.
	Flags *pflag.FlagSet
}

// Load resolves Settings. PYTHONPATH entries are appended to the configured
// search path.
func Load(opts LoadOptions) (Settings, error) {
	v := viper.New()

	defaults := DefaultSettings()
	v.SetDefault(KeyAddress, defaults.Address)
	v.SetDefault(KeyPort, defaults.Port)
	v.SetDefault(KeySearchPath, []string{})
	v.SetDefault(KeyPython, defaults.Python)
	v.SetDefault(KeyProjectMarkers, defaults.ProjectMarkers)
	v.SetDefault(KeyVerbose, defaults.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Settings{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	configFile, err := findConfigFile(opts)
	if err != nil {
		return Settings{}, err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config: %w", err)
	}
	settings.ConfigFile = configFile

	searchPath, err := stringList(v.Get(KeySearchPath), filepath.SplitList)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid %s: %w", KeySearchPath, err)
	}
	settings.SearchPath = append(searchPath, filepath.SplitList(os.Getenv("PYTHONPATH"))...)
	settings.SearchPath = compact(settings.SearchPath)

	markers, err := stringList(v.Get(KeyProjectMarkers), splitComma)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid %s: %w", KeyProjectMarkers, err)
	}
	settings.ProjectMarkers = compact(markers)
	if len(settings.ProjectMarkers) == 0 {
		settings.ProjectMarkers = defaults.ProjectMarkers
	}

	if settings.Port < 0 || settings.Port > 65535 {
		return Settings{}, fmt.Errorf("invalid %s: %d", KeyPort, settings.Port)
	}

	return settings, nil
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return "", fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{name, "." + name} {
		path := filepath.Join(workDir, candidate)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

// stringList reads a list setting. A single string, as set through the
// environment, is split with split.
func stringList(value any, split func(string) []string) ([]string, error) {
	switch val := value.(type) {
	case nil:
		return nil, nil
	case string:
		return split(val), nil
	case []string:
		return val, nil
	default:
		list, err := cast.ToStringSliceE(val)
		if err != nil {
			return nil, err
		}
		return list, nil
	}
}

func splitComma(s string) []string {
	return strings.Split(s, ",")
}

// compact trims entries and drops empty ones and repeats, keeping order.
func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" || slices.Contains(out, entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
