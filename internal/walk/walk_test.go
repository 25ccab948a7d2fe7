package walk

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/pathentry"
)

func collectPaths(t *testing.T, w *Walker) []string {
	t.Helper()
	var out []string
	for {
		dp, err := w.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, dp.Index.Path())
	}
	return out
}

func TestWalkerOrdersLexicographically(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "z"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "y"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c"), []byte("x"), 0o644))

	w := New(root, AllowAll{}, nil)
	paths := collectPaths(t, w)

	require.Equal(t, []string{".", "a", "b", "b/y", "b/z", "c"}, paths)
}

type excludeSelector struct {
	excluded string
}

func (s excludeSelector) Include(index pathentry.Index, isDir bool) (bool, string) {
	if index.Path() == s.excluded {
		return false, "test exclusion"
	}
	return true, ""
}

func TestWalkerPrunesExcludedSubtree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "skip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip", "inner"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep"), []byte("x"), 0o644))

	var skipped []string
	w := New(root, excludeSelector{excluded: "skip"}, func(idx pathentry.Index, err error) {
		skipped = append(skipped, idx.Path())
	})
	paths := collectPaths(t, w)

	require.Equal(t, []string{".", "keep"}, paths)
	require.Equal(t, []string{"skip"}, skipped)
}

func TestWalkerEmptyDirectoryYieldsOnlyRoot(t *testing.T) {
	root := t.TempDir()
	w := New(root, nil, nil)
	paths := collectPaths(t, w)
	require.Equal(t, []string{"."}, paths)
}

func TestWalkerNextAfterEOFKeepsReturningEOF(t *testing.T) {
	root := t.TempDir()
	w := New(root, nil, nil)
	collectPaths(t, w)

	_, err := w.Next()
	require.ErrorIs(t, err, io.EOF)
}
