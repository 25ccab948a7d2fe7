package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// lockFileName is the advisory-lock file held for the duration of any
// command that writes to an archive directory — backup and the two removal
// commands. Readers (restore, verify, collection-status,
// list-current-files) never take it, since a concurrent reader sees either
// the old state or the new one but nothing torn: every write to the
// archive lands via an atomic rename (backend.Local.Put).
const lockFileName = ".vaultik.lock"

// lockFilePermissions matches the standard config file permissions (owner rw, group/other r).
const lockFilePermissions = 0o644

// acquireArchiveLock takes a non-blocking exclusive flock on archiveDir's
// lock file, failing immediately if another writer already holds it rather
// than queuing behind it — the same pattern the source's daemon PID file
// used to guarantee a single running instance.
func acquireArchiveLock(archiveDir string) (cleanup func(), err error) {
	if archiveDir == "" {
		return nil, fmt.Errorf("archive directory is empty — cannot acquire lock")
	}

	if err := os.MkdirAll(archiveDir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	path := filepath.Join(archiveDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another vaultik session is already writing to %s", archiveDir)
	}

	return func() {
		f.Close()
	}, nil
}

// pidDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const pidDirPermissions = 0o755
