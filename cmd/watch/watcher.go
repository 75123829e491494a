package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

var skippedDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".tox":          true,
	".venv":         true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"__pycache__":   true,
	"node_modules":  true,
	".idea":         true,
	".vscode":       true,
}

// watchAndRefresh calls refresh after every burst of Python file changes in
// dir, or anywhere below it when recursive is set, until ctx is done.
func watchAndRefresh(ctx context.Context, dir string, recursive bool, refresh func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if recursive {
		err = addWatchDirs(watcher, dir)
	} else {
		err = watcher.Add(dir)
	}
	if err != nil {
		return fmt.Errorf("failed to watch directories: %w", err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if recursive && event.Has(fsnotify.Create) {
				addIfDirectory(watcher, event.Name)
			}

			if !isRelevantChange(event) {
				continue
			}
			logging.Debug("change detected", "file", event.Name, "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceInterval, refresh)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

func isRelevantChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Ext(event.Name) == finder.SourceExt
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return addWatchDirsWithAdder(root, watcher.Add)
}

// addWatchDirsWithAdder passes every directory under root to add, skipping
// tool and cache directories. Directories that vanish during the walk are
// ignored.
func addWatchDirsWithAdder(root string, add func(string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := add(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func addIfDirectory(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		_ = addWatchDirs(watcher, path)
	}
}
