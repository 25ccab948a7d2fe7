package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/tempfile"
)

// fetchToTemp downloads remoteName from be into a fresh duplicity_temp.<n>
// file in the OS temp directory, returning its path and a cleanup func the
// caller must run once done reading it.
func fetchToTemp(be backend.Backend, remoteName string) (path string, cleanup func(), err error) {
	f, err := tempfile.New(os.TempDir())
	if err != nil {
		return "", nil, fmt.Errorf("engine: staging temp file for %s: %w", remoteName, err)
	}
	tmpPath := f.Name()
	f.Close()

	if err := be.Get(remoteName, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("engine: fetching %s: %w", remoteName, err)
	}

	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

// joinIndex resolves an Index against sourceRoot the same way a DiskPath
// does internally, for the callers that only need a plain path string
// rather than the full refreshed-stat DiskPath value.
func joinIndex(sourceRoot string, index pathentry.Index) string {
	return filepath.Join(append([]string{sourceRoot}, index...)...)
}
