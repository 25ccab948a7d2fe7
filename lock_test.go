package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireArchiveLockCreatesArchiveDirAndLockFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")

	cleanup, err := acquireArchiveLock(dir)
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	defer cleanup()

	_, statErr := os.Stat(filepath.Join(dir, lockFileName))
	assert.NoError(t, statErr)
}

func TestAcquireArchiveLockSecondAcquisitionFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cleanup1, err := acquireArchiveLock(dir)
	require.NoError(t, err)
	defer cleanup1()

	cleanup2, err := acquireArchiveLock(dir)
	assert.Error(t, err)
	assert.Nil(t, cleanup2)
	assert.Contains(t, err.Error(), "already writing")
}

func TestAcquireArchiveLockReleasedAfterCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cleanup1, err := acquireArchiveLock(dir)
	require.NoError(t, err)
	cleanup1()

	cleanup2, err := acquireArchiveLock(dir)
	require.NoError(t, err)
	defer cleanup2()
}

func TestAcquireArchiveLockEmptyArchiveDirErrors(t *testing.T) {
	t.Parallel()

	_, err := acquireArchiveLock("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
