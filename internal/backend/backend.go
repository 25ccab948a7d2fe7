// Package backend implements the blob-store trait (C9's transport-facing
// side) and the local filesystem backend the CLI uses by default: every
// remote name is a file in a target directory, written via a temp file and
// an atomic rename into place, mirroring the rename-into-place pattern the
// teacher's trash/move helpers use for moving files safely across a
// filesystem boundary.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vaultik/vaultik/internal/robust"
	"github.com/vaultik/vaultik/internal/tempfile"
)

// Backend is the storage trait every transport implements: put, get, list,
// delete by remote name. The engine core depends only on this interface;
// SCP/SFTP/object-store backends are additions that never touch core code.
type Backend interface {
	Put(localPath, remoteName string) error
	Get(remoteName, localPath string) error
	List() ([]string, error)
	Delete(remoteNames []string) error
	Size(remoteName string) (int64, error)
}

// Local is the shipped filesystem Backend: a target directory holding one
// file per remote name.
type Local struct {
	Dir string
}

// NewLocal returns a Local backend rooted at dir. dir must already exist.
func NewLocal(dir string) *Local {
	return &Local{Dir: dir}
}

// Put copies localPath's content into the target directory under
// remoteName, via a temp file in the same directory and an atomic rename,
// so a reader never observes a partially-written remote file.
func (l *Local) Put(localPath, remoteName string) error {
	src, err := openRetryingEINTR(localPath)
	if err != nil {
		return fmt.Errorf("backend: open %s: %w", localPath, err)
	}
	defer src.Close()

	tmp, err := tempfile.New(l.Dir)
	if err != nil {
		return fmt.Errorf("backend: temp file in %s: %w", l.Dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := copyAll(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("backend: writing %s: %w", remoteName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backend: closing %s: %w", remoteName, err)
	}

	dest := filepath.Join(l.Dir, remoteName)
	if err := renameRetryingEINTR(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backend: renaming into place %s: %w", remoteName, err)
	}
	return nil
}

// Get copies remoteName's content to localPath.
func (l *Local) Get(remoteName, localPath string) error {
	src, err := openRetryingEINTR(filepath.Join(l.Dir, remoteName))
	if err != nil {
		return fmt.Errorf("backend: open %s: %w", remoteName, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("backend: create %s: %w", localPath, err)
	}
	if _, err := copyAll(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("backend: reading %s: %w", remoteName, err)
	}
	return dst.Close()
}

// openRetryingEINTR opens path, reissuing the syscall immediately (no
// backoff) up to robust.DefaultEINTRAttempts times if it's interrupted.
func openRetryingEINTR(path string) (*os.File, error) {
	var f *os.File
	err := robust.RetryEINTR(context.Background(), func() error {
		var openErr error
		f, openErr = os.Open(path)
		return openErr
	})
	return f, err
}

// renameRetryingEINTR renames oldPath to newPath with the same EINTR
// retry policy as openRetryingEINTR.
func renameRetryingEINTR(oldPath, newPath string) error {
	return robust.RetryEINTR(context.Background(), func() error {
		return os.Rename(oldPath, newPath)
	})
}

// List returns every remote name in the target directory, sorted for
// determinism — the collection layer relies on a stable ordering when it
// digests the file list for the status cache key.
func (l *Local) List() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("backend: listing %s: %w", l.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes each of remoteNames. An already-absent file is tolerated
// as benign (§4.8), not an error — a partially-completed prior delete
// should not block the rest of the batch.
func (l *Local) Delete(remoteNames []string) error {
	for _, name := range remoteNames {
		err := os.Remove(filepath.Join(l.Dir, name))
		if err != nil && !robust.IsBenign(err) {
			return fmt.Errorf("backend: deleting %s: %w", name, err)
		}
	}
	return nil
}

// Size reports remoteName's stored byte length, for collection-status and
// retention reporting.
func (l *Local) Size(remoteName string) (int64, error) {
	info, err := os.Stat(filepath.Join(l.Dir, remoteName))
	if err != nil {
		return 0, fmt.Errorf("backend: stat %s: %w", remoteName, err)
	}
	return info.Size(), nil
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	return src.WriteTo(dst)
}
