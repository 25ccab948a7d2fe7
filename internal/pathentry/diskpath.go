package pathentry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// DiskPath is a real, writable filesystem entry: an Entry plus the absolute
// path backing it. Mutation methods (Mkdir, Delete, Rename, ...) act on disk
// and then refresh the cached stat, mirroring the source's Path.setdata
// pattern of re-stat'ing after every write.
type DiskPath struct {
	Entry
	Root string // absolute path of the tree root this DiskPath lives under
	Name string // absolute path of this entry on disk
}

// NewDiskPath stats root+index and returns the resulting DiskPath. A
// nonexistent path is represented by Kind == KindAbsent, not an error.
func NewDiskPath(root string, index Index) (*DiskPath, error) {
	name := filepath.Join(append([]string{root}, index...)...)

	dp := &DiskPath{Root: root, Name: name, Entry: Entry{Index: index}}
	if err := dp.refresh(); err != nil {
		return nil, err
	}
	return dp, nil
}

// refresh re-stats the entry and updates Kind/attributes in place.
func (dp *DiskPath) refresh() error {
	fi, err := os.Lstat(dp.Name)
	if err != nil {
		if os.IsNotExist(err) {
			dp.Kind = KindAbsent
			return nil
		}
		return fmt.Errorf("pathentry: stat %s: %w", dp.Name, err)
	}

	kind, err := KindFromFileMode(fi.Mode())
	if err != nil {
		return fmt.Errorf("pathentry: %s: %w", dp.Name, err)
	}
	dp.Kind = kind
	dp.Mode = fi.Mode().Perm()
	dp.MtimeNanos = fi.ModTime().UnixNano()

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		dp.UID = int(st.Uid)
		dp.GID = int(st.Gid)

		if st.Nlink > 1 && kind == KindRegular {
			return fmt.Errorf("pathentry: %s: %w", dp.Name, ErrHardLinkUnsupported)
		}

		if kind == KindCharDevice || kind == KindBlockDevice {
			dp.Dev = DevNums{Major: uint32(st.Rdev >> 8), Minor: uint32(st.Rdev & 0xff)} //nolint:gosec
		}
	}

	if kind == KindRegular {
		dp.Size = fi.Size()
	}

	if kind == KindSymlink {
		target, err := os.Readlink(dp.Name)
		if err != nil {
			return fmt.Errorf("pathentry: readlink %s: %w", dp.Name, err)
		}
		dp.SymlinkTarget = target
	}

	return nil
}

// Child returns the DiskPath for index's child named name, stat'd fresh.
func (dp *DiskPath) Child(name string) (*DiskPath, error) {
	return NewDiskPath(dp.Root, dp.Index.Child(name))
}

// Mkdir creates a directory at dp's path and refreshes the stat cache.
func (dp *DiskPath) Mkdir() error {
	if err := os.Mkdir(dp.Name, 0o777); err != nil {
		return fmt.Errorf("pathentry: mkdir %s: %w", dp.Name, err)
	}
	return dp.refresh()
}

// Delete removes the entry at dp's path. os.Remove handles both unlink and
// rmdir (the latter only succeeds on an already-empty directory; use
// DeleteTree for a recursive directory removal).
func (dp *DiskPath) Delete() error {
	if err := os.Remove(dp.Name); err != nil {
		return fmt.Errorf("pathentry: delete %s: %w", dp.Name, err)
	}
	return dp.refresh()
}

// DeleteTree recursively removes dp and everything beneath it.
func (dp *DiskPath) DeleteTree() error {
	if err := os.RemoveAll(dp.Name); err != nil {
		return fmt.Errorf("pathentry: delete tree %s: %w", dp.Name, err)
	}
	return dp.refresh()
}

// Rename moves dp's file to target's path, then refreshes both.
func (dp *DiskPath) Rename(target *DiskPath) error {
	if err := os.Rename(dp.Name, target.Name); err != nil {
		return fmt.Errorf("pathentry: rename %s -> %s: %w", dp.Name, target.Name, err)
	}
	if err := dp.refresh(); err != nil {
		return err
	}
	return target.refresh()
}

// CreateFrom materializes e at dp's path: writes content for regular files,
// mkdir for directories, symlink for symlinks, mkfifo for fifos. Device and
// socket entries are not recreated (mknod requires privileges the engine
// does not assume); a directory placeholder is left instead, matching the
// source's best-effort stance on those rare kinds. content is consumed and
// closed by the caller's defer, not here.
func (dp *DiskPath) CreateFrom(e *Entry, content io.Reader) error {
	switch e.Kind {
	case KindRegular:
		f, err := os.OpenFile(dp.Name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
		if err != nil {
			return fmt.Errorf("pathentry: create %s: %w", dp.Name, err)
		}
		if _, err := io.Copy(f, content); err != nil {
			f.Close()
			return fmt.Errorf("pathentry: write %s: %w", dp.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("pathentry: close %s: %w", dp.Name, err)
		}
	case KindDirectory:
		if err := os.Mkdir(dp.Name, 0o777); err != nil {
			return fmt.Errorf("pathentry: mkdir %s: %w", dp.Name, err)
		}
	case KindSymlink:
		if err := os.Symlink(e.SymlinkTarget, dp.Name); err != nil {
			return fmt.Errorf("pathentry: symlink %s: %w", dp.Name, err)
		}
		return dp.refresh() // symlink attributes are not separately chowned/chmod'ed
	case KindFifo:
		if err := mkfifo(dp.Name, 0o666); err != nil {
			return fmt.Errorf("pathentry: mkfifo %s: %w", dp.Name, err)
		}
	default:
		if err := os.Mkdir(dp.Name, 0o777); err != nil {
			return fmt.Errorf("pathentry: placeholder mkdir %s: %w", dp.Name, err)
		}
	}

	if err := dp.refresh(); err != nil {
		return err
	}
	return dp.CopyAttribsToDisk(e)
}

// CopyAttribsToDisk applies e's mode/uid/gid/mtime onto the real file at
// dp's path via chown/chmod/utimes, then refreshes dp's stat cache. Mirrors
// the source's Path.copy_attribs applied to a real (not synthetic) target.
func (dp *DiskPath) CopyAttribsToDisk(e *Entry) error {
	if err := os.Chown(dp.Name, e.UID, e.GID); err != nil && !os.IsPermission(err) {
		return fmt.Errorf("pathentry: chown %s: %w", dp.Name, err)
	}
	if err := os.Chmod(dp.Name, e.Mode); err != nil {
		return fmt.Errorf("pathentry: chmod %s: %w", dp.Name, err)
	}
	mtime := timeFromNanos(e.MtimeNanos)
	if err := os.Chtimes(dp.Name, mtime, mtime); err != nil {
		return fmt.Errorf("pathentry: chtimes %s: %w", dp.Name, err)
	}
	return dp.refresh()
}
