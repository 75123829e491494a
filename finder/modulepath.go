package finder

import (
	"path/filepath"
	"strings"
)

// BuildModulePath turns abspath into a dotted module path relative to root.
// A trailing __init__ segment is dropped so a package is named by its directory.
// root must be an ancestor of abspath.
func BuildModulePath(abspath AbsolutePath, root string) string {
	rel, err := filepath.Rel(root, stripExt(abspath.String()))
	if err != nil {
		return ""
	}

	segments := strings.Split(rel, string(filepath.Separator))
	if len(segments) > 1 && segments[len(segments)-1] == InitModule {
		segments = segments[:len(segments)-1]
	}
	return strings.Join(segments, ".")
}

// ModuleFile maps a module path back to the source file it names under root:
// the package init file when the module is a package directory, otherwise the
// module's own .py file.
func ModuleFile(module, root string) (string, bool) {
	if module == "" {
		return "", false
	}

	base := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(module, ".", "/")))
	if initPath := filepath.Join(base, PackageInitFile); exists(initPath) {
		return initPath, true
	}
	if filePath := base + SourceExt; exists(filePath) {
		return filePath, true
	}
	return "", false
}
