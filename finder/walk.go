package finder

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
)

// Walk lazily yields every non-directory entry below dir, depth first, with
// each directory's files before its subdirectories and entries in name order.
//
// Symbolic links to directories are followed. A directory whose resolved
// physical path was already visited in this walk is skipped, so link cycles
// terminate and no file is yielded twice through an aliasing link. Filesystem
// errors are yielded and end the walk.
func Walk(dir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		visited := make(map[string]struct{})
		stack := []string{dir}

		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			identity, err := filepath.EvalSymlinks(current)
			if err != nil {
				yield("", fmt.Errorf("failed to resolve %s: %w", current, err))
				return
			}
			if _, seen := visited[identity]; seen {
				continue
			}
			visited[identity] = struct{}{}

			entries, err := os.ReadDir(current)
			if err != nil {
				yield("", fmt.Errorf("failed to read directory %s: %w", current, err))
				return
			}

			var subdirs []string
			for _, entry := range entries {
				path := filepath.Join(current, entry.Name())
				if isDirEntry(path, entry) {
					subdirs = append(subdirs, path)
					continue
				}
				if !yield(path, nil) {
					return
				}
			}

			slices.Reverse(subdirs)
			stack = append(stack, subdirs...)
		}
	}
}

// isDirEntry reports whether entry is a directory, following symbolic links.
// A dangling link counts as a file.
func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
