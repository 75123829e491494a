// Package browser describes the Python symbols reachable from a source path.
//
// A path is resolved to its module, expanded to the modules of its top-level
// package, and each module is handed to a symbol extractor. Results are
// produced lazily and recomputed from the filesystem on every call.
package browser

import (
	"cmp"
	"errors"
	"iter"
	"slices"

	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/internal/logging"
	"github.com/LegacyCodeHQ/pybrowse/symbols"
)

// Descriptor is the flat record reported for one symbol.
type Descriptor struct {
	Module   string `json:"module"`
	Name     string `json:"name"`
	File     string `json:"file"`
	Lineno   int    `json:"lineno"`
	Fullname string `json:"fullname"`
}

// Extractor returns the top-level symbols of a module found under roots.
type Extractor interface {
	Extract(module string, roots []string) (map[string]symbols.Symbol, error)
}

// Browser combines a Finder with an Extractor.
type Browser struct {
	finder    *finder.Finder
	extractor Extractor
}

// New returns a Browser.
func New(f *finder.Finder, extractor Extractor) *Browser {
	return &Browser{finder: f, extractor: extractor}
}

// Resolve interprets path as a module.
func (b *Browser) Resolve(path string) (finder.Resolution, error) {
	return b.finder.FindModule(finder.RawPath(path))
}

// Modules lists the modules of the package path belongs to, and their root.
func (b *Browser) Modules(path string) ([]string, string, error) {
	pkg, err := b.finder.FindPackage(finder.RawPath(path))
	if err != nil {
		return nil, "", err
	}
	modules, err := pkg.Collect()
	if err != nil {
		return nil, pkg.Root, err
	}
	return modules, pkg.Root, nil
}

// Describe yields a Descriptor for every symbol of every module in the package
// path belongs to. An empty or unresolvable path yields nothing. Filesystem
// errors are yielded and end the sequence.
func (b *Browser) Describe(path string) iter.Seq2[Descriptor, error] {
	return func(yield func(Descriptor, error) bool) {
		pkg, err := b.finder.FindPackage(finder.RawPath(path))
		if errors.Is(err, finder.ErrEmptyPath) {
			return
		}
		if err != nil {
			yield(Descriptor{}, err)
			return
		}

		roots := []string{pkg.Root}
		for module, err := range pkg.Modules {
			if err != nil {
				yield(Descriptor{}, err)
				return
			}
			if !b.describeModule(module, roots, yield) {
				return
			}
		}
	}
}

// DescribeModule is like Describe but covers only the module path resolves
// to, not the rest of its package.
func (b *Browser) DescribeModule(path string) iter.Seq2[Descriptor, error] {
	return func(yield func(Descriptor, error) bool) {
		res, err := b.finder.FindModule(finder.RawPath(path))
		if errors.Is(err, finder.ErrEmptyPath) {
			return
		}
		if err != nil {
			yield(Descriptor{}, err)
			return
		}
		b.describeModule(res.Module, []string{res.Root}, yield)
	}
}

// describeModule yields the descriptors of one module and reports whether the
// consumer wants more.
func (b *Browser) describeModule(module string, roots []string, yield func(Descriptor, error) bool) bool {
	if module == "" {
		return true
	}

	found, err := b.extractor.Extract(module, roots)
	if errors.Is(err, symbols.ErrModuleNotFound) {
		logging.Debug("skipping module outside the import hierarchy", "module", module, "roots", roots)
		return true
	}
	if err != nil {
		return yield(Descriptor{}, err)
	}

	for _, sym := range sortedSymbols(found) {
		if !yield(newDescriptor(sym), nil) {
			return false
		}
	}
	return true
}

func sortedSymbols(found map[string]symbols.Symbol) []symbols.Symbol {
	out := make([]symbols.Symbol, 0, len(found))
	for name, sym := range found {
		if name == symbols.PathKey {
			continue
		}
		out = append(out, sym)
	}
	slices.SortFunc(out, func(a, b symbols.Symbol) int {
		return cmp.Or(cmp.Compare(a.Lineno, b.Lineno), cmp.Compare(a.Name, b.Name))
	})
	return out
}

func newDescriptor(sym symbols.Symbol) Descriptor {
	return Descriptor{
		Module:   sym.Module,
		Name:     sym.Name,
		File:     sym.File,
		Lineno:   sym.Lineno,
		Fullname: sym.Module + "." + sym.Name,
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Descriptor, error]) ([]Descriptor, error) {
	descs := []Descriptor{}
	for desc, err := range seq {
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}
