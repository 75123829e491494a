// Package finder interprets filesystem paths as Python module paths.
//
// A source file is mapped to a dotted module path by first finding its import
// root (see RootResolver) and then taking the file's path relative to that
// root. Nothing is cached: every call reflects the filesystem at call time.
package finder

import (
	"iter"
	"path/filepath"
	"strings"
)

// Options configures a Finder.
type Options struct {
	// BaseDir resolves relative input paths. Empty means the working directory.
	BaseDir string
	// SearchPath, WorkDir and ProjectMarkers configure root resolution.
	SearchPath     []string
	WorkDir        string
	ProjectMarkers []string
}

// Resolution is the result of interpreting one path as a module.
type Resolution struct {
	// Path is the normalized input path.
	Path AbsolutePath
	// Module is the dotted module path, or empty when no root was found.
	Module string
	// Root is the import root. It equals Path when Module is empty.
	Root string
	// Strategy names the strategy that produced Root.
	Strategy string
}

// Resolved reports whether a module path was found.
func (r Resolution) Resolved() bool {
	return r.Module != ""
}

// Package is the set of modules a path expands to.
type Package struct {
	Root string
	// Modules yields module paths lazily. It may be ranged over more than once;
	// each pass re-walks the filesystem.
	Modules iter.Seq2[string, error]
}

// Collect drains the package's modules into a slice.
func (p Package) Collect() ([]string, error) {
	var modules []string
	for module, err := range p.Modules {
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// Finder resolves paths to modules and packages.
type Finder struct {
	normalizer PathNormalizer
	resolver   *RootResolver
}

// New builds a Finder from opts.
func New(opts Options) (*Finder, error) {
	normalizer, err := NewPathNormalizer(opts.BaseDir)
	if err != nil {
		return nil, err
	}

	resolver, err := NewRootResolver(ResolverOptions{
		SearchPath:     opts.SearchPath,
		WorkDir:        opts.WorkDir,
		ProjectMarkers: opts.ProjectMarkers,
	})
	if err != nil {
		return nil, err
	}

	return &Finder{normalizer: normalizer, resolver: resolver}, nil
}

// FindModule interprets path as a module. An unresolvable path is not an
// error; it yields a Resolution with an empty Module.
func (f *Finder) FindModule(path RawPath) (Resolution, error) {
	abspath, err := f.normalizer.Normalize(path)
	if err != nil {
		return Resolution{}, err
	}

	root, strategy := f.resolver.resolve(abspath)
	res := Resolution{Path: abspath, Root: root, Strategy: strategy}
	if strategy != StrategyUnresolved {
		res.Module = BuildModulePath(abspath, root)
	}
	return res, nil
}

// FindPackage expands path to every module of its top-level package. A path
// that does not resolve, or resolves to a top-level module, expands to its own
// module only.
func (f *Finder) FindPackage(path RawPath) (Package, error) {
	res, err := f.FindModule(path)
	if err != nil {
		return Package{}, err
	}
	return EnumeratePackage(res), nil
}

// EnumeratePackage expands an existing resolution. See FindPackage.
func EnumeratePackage(res Resolution) Package {
	if !strings.Contains(res.Module, ".") {
		module := res.Module
		return Package{
			Root: res.Root,
			Modules: func(yield func(string, error) bool) {
				yield(module, nil)
			},
		}
	}

	root := res.Root
	top, _, _ := strings.Cut(res.Module, ".")
	return Package{
		Root: root,
		Modules: func(yield func(string, error) bool) {
			for file, err := range Walk(filepath.Join(root, top)) {
				if err != nil {
					yield("", err)
					return
				}
				if !strings.HasSuffix(file, SourceExt) {
					continue
				}
				if !yield(BuildModulePath(AbsolutePath(file), root), nil) {
					return
				}
			}
		},
	}
}
