package finder

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Strategy names reported in a Resolution.
const (
	StrategySearchPath = "search-path"
	StrategyInit       = "init"
	StrategyProject    = "project-marker"
	StrategyStandAlone = "stand-alone"
	StrategyUnresolved = ""
)

// Strategy proposes an import root for abspath, or reports that it has none.
type Strategy func(abspath AbsolutePath) (root string, ok bool)

type namedStrategy struct {
	name string
	fn   Strategy
}

// ResolverOptions configures a RootResolver. The values are read-only once the
// resolver is built.
type ResolverOptions struct {
	// SearchPath lists trusted import roots, like a Python interpreter's sys.path.
	SearchPath []string
	// WorkDir is the directory used by the __init__ chain strategy.
	// Empty means the process working directory at construction time.
	WorkDir string
	// ProjectMarkers are file names marking a project root. Empty means setup.py.
	ProjectMarkers []string
}

// RootResolver finds the import root of a source file by trying its strategies
// in order; the first one that yields a root wins.
type RootResolver struct {
	searchPath     []string
	workDir        string
	projectMarkers []string
	strategies     []namedStrategy
}

// NewRootResolver builds a resolver with the search-path, __init__ chain,
// project marker and stand-alone strategies, in that order.
func NewRootResolver(opts ResolverOptions) (*RootResolver, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	markers := slices.Clone(opts.ProjectMarkers)
	if len(markers) == 0 {
		markers = []string{DefaultProjectMarker}
	}

	r := &RootResolver{
		searchPath:     slices.Clone(opts.SearchPath),
		workDir:        filepath.Clean(workDir),
		projectMarkers: markers,
	}
	r.strategies = []namedStrategy{
		{name: StrategySearchPath, fn: r.fromSearchPath},
		{name: StrategyInit, fn: r.fromWorkDir},
		{name: StrategyProject, fn: r.fromProjectMarker},
		{name: StrategyStandAlone, fn: fromStandAlone},
	}
	return r, nil
}

// SearchPath returns a copy of the configured search path.
func (r *RootResolver) SearchPath() []string {
	return slices.Clone(r.searchPath)
}

// Resolve returns the import root of abspath.
func (r *RootResolver) Resolve(abspath AbsolutePath) (string, bool) {
	root, strategy := r.resolve(abspath)
	return root, strategy != StrategyUnresolved
}

func (r *RootResolver) resolve(abspath AbsolutePath) (string, string) {
	for _, s := range r.strategies {
		if root, ok := s.fn(abspath); ok {
			return root, s.name
		}
	}
	return abspath.String(), StrategyUnresolved
}

// fromSearchPath picks the lexicographically greatest qualifying entry. This is
// a plain string comparison, not a longest-prefix match; "/a/b" loses to
// "/a/c" even if both qualify.
func (r *RootResolver) fromSearchPath(abspath AbsolutePath) (string, bool) {
	var matches []string
	for _, p := range r.searchPath {
		if p == "" {
			continue
		}
		if strings.HasPrefix(abspath.String(), p) && IsValidRoot(abspath, p) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	return slices.Max(matches), true
}

func (r *RootResolver) fromWorkDir(abspath AbsolutePath) (string, bool) {
	if !strings.HasPrefix(abspath.String(), r.workDir) {
		return "", false
	}
	if IsValidRoot(abspath, r.workDir) {
		return r.workDir, true
	}
	return "", false
}

// fromProjectMarker picks the lexicographically smallest, i.e. outermost,
// ancestor holding a project marker. Sub-packages sometimes carry their own
// setup.py that must not shadow the real project root.
func (r *RootResolver) fromProjectMarker(abspath AbsolutePath) (string, bool) {
	var matches []string
	dir := filepath.Dir(abspath.String())
	for {
		if r.hasProjectMarker(dir) && IsValidRoot(abspath, dir) {
			matches = append(matches, dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if len(matches) == 0 {
		return "", false
	}
	return slices.Min(matches), true
}

func (r *RootResolver) hasProjectMarker(dir string) bool {
	for _, marker := range r.projectMarkers {
		if exists(filepath.Join(dir, marker)) {
			return true
		}
	}
	return false
}

func fromStandAlone(abspath AbsolutePath) (string, bool) {
	if IsIdentifier(stripExt(filepath.Base(abspath.String()))) {
		return filepath.Dir(abspath.String()), true
	}
	return "", false
}
