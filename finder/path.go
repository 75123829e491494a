package finder

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ErrEmptyPath is returned when a path to normalize is empty.
var ErrEmptyPath = errors.New("path cannot be empty")

// RawPath is a user-provided file path, possibly relative or starting with ~.
type RawPath string

// AbsolutePath is a normalized absolute filesystem path.
type AbsolutePath string

func (p AbsolutePath) String() string {
	return string(p)
}

// PathNormalizer turns raw user paths into absolute paths relative to a base directory.
type PathNormalizer struct {
	baseDir AbsolutePath
}

// NewPathNormalizer returns a normalizer resolving relative paths against baseDir.
// An empty baseDir means the current working directory.
func NewPathNormalizer(baseDir string) (PathNormalizer, error) {
	if baseDir == "" {
		baseDir = "."
	}

	expanded, err := ExpandUser(baseDir)
	if err != nil {
		return PathNormalizer{}, err
	}

	absBaseDir, err := filepath.Abs(expanded)
	if err != nil {
		return PathNormalizer{}, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return PathNormalizer{baseDir: AbsolutePath(filepath.Clean(absBaseDir))}, nil
}

// BaseDir returns the directory relative paths are resolved against.
func (n PathNormalizer) BaseDir() AbsolutePath {
	return n.baseDir
}

// Normalize expands home markers and returns the cleaned absolute form of path.
// Symbolic links are left alone.
func (n PathNormalizer) Normalize(path RawPath) (AbsolutePath, error) {
	pathStr := string(path)
	if pathStr == "" {
		return "", ErrEmptyPath
	}

	expanded, err := ExpandUser(pathStr)
	if err != nil {
		return "", err
	}

	if filepath.IsAbs(expanded) {
		return AbsolutePath(filepath.Clean(expanded)), nil
	}

	return AbsolutePath(filepath.Join(n.baseDir.String(), expanded)), nil
}

// ExpandUser replaces a leading ~ or ~user with the matching home directory.
// Unknown users leave the path unchanged.
func ExpandUser(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	name, rest, _ := strings.Cut(path[1:], string(filepath.Separator))
	if filepath.Separator != '/' {
		name, rest, _ = strings.Cut(filepath.ToSlash(path[1:]), "/")
	}

	var home string
	if name == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		home = dir
	} else {
		u, err := user.Lookup(name)
		if err != nil {
			return path, nil
		}
		home = u.HomeDir
	}

	if rest == "" {
		return home, nil
	}
	return filepath.Join(home, filepath.FromSlash(rest)), nil
}
