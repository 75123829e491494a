package finder

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// SourceExt is the extension of files treated as Python modules.
	SourceExt = ".py"
	// InitModule is the module name of a package's init file.
	InitModule = "__init__"
	// PackageInitFile marks a directory as an importable package.
	PackageInitFile = InitModule + SourceExt
	// DefaultProjectMarker marks a project's top-level directory.
	DefaultProjectMarker = "setup.py"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][0-9A-Za-z_]*$`)

// IsIdentifier reports whether s can be one segment of a dotted module path.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// IsValidRoot reports whether root can serve as the import root of abspath:
// every path segment from root down to abspath (extension stripped) must be an
// identifier, and every directory in between must hold an __init__.py.
func IsValidRoot(abspath AbsolutePath, root string) bool {
	return isValidModulePath(abspath, root) && hasInit(abspath, root)
}

func isValidModulePath(abspath AbsolutePath, root string) bool {
	rel, err := filepath.Rel(root, stripExt(abspath.String()))
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if !IsIdentifier(segment) {
			return false
		}
	}
	return true
}

func hasInit(abspath AbsolutePath, root string) bool {
	rel, err := filepath.Rel(root, abspath.String())
	if err != nil {
		return false
	}

	subdirs := strings.Split(rel, string(filepath.Separator))
	subdirs = subdirs[:len(subdirs)-1]
	for len(subdirs) > 0 {
		initPath := filepath.Join(root, filepath.Join(subdirs...), PackageInitFile)
		if !exists(initPath) {
			return false
		}
		subdirs = subdirs[:len(subdirs)-1]
	}
	return true
}

// stripExt removes the extension of the final path element. A leading dot in
// the base name does not start an extension, so ".hidden" is kept whole.
func stripExt(path string) string {
	base := filepath.Base(path)
	trimmed := strings.TrimLeft(base, ".")
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return path
	}
	return path[:len(path)-(len(trimmed)-idx)]
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
