package finder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTree creates empty files at the given slash-separated paths under root.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, file := range files {
		path := filepath.Join(root, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
}

func abs(root, rel string) AbsolutePath {
	return AbsolutePath(filepath.Join(root, filepath.FromSlash(rel)))
}

func newTestResolver(t *testing.T, opts ResolverOptions) *RootResolver {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	r, err := NewRootResolver(opts)
	require.NoError(t, err)
	return r
}
