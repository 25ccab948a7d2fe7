package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/naming"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(srcDir, archiveDir, passphraseEnv string) *config.SessionConfig {
	cfg := config.Default()
	cfg.Session.SourceDir = srcDir
	cfg.Session.ArchiveDir = archiveDir
	cfg.Cipher.PassphraseEnv = passphraseEnv
	cfg.Session.VolumeSize = 4096
	cfg.Session.TargetSize = 16384
	cfg.Session.Fudge = 512
	cfg.Session.FooterReserve = 512
	return cfg
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestBackupRestoreVerifyRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	archiveDir := t.TempDir()
	t.Setenv("VAULTIK_TEST_PASS", "integration-test-passphrase")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "keep.txt"), []byte("unchanged content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "edited.txt"), bytes.Repeat([]byte("v1-"), 2000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "gone.txt"), []byte("will be deleted"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "nested.txt"), []byte("nested content"), 0o644))

	cfg := testConfig(srcDir, archiveDir, "VAULTIK_TEST_PASS")
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()
	logger := discardLogger()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fullResult, err := Backup(ctx, cfg, be, nil, logger, t1)
	require.NoError(t, err)
	assert.True(t, fullResult.Full)
	assert.Greater(t, fullResult.VolumeCount, 0)

	// Mutate the tree: edit one file, delete another, add a new one.
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "edited.txt"), bytes.Repeat([]byte("v2-"), 2000), 0o644))
	require.NoError(t, os.Remove(filepath.Join(srcDir, "gone.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "new.txt"), []byte("brand new"), 0o644))

	t2 := t1.Add(time.Hour)
	incResult, err := Backup(ctx, cfg, be, nil, logger, t2)
	require.NoError(t, err)
	assert.False(t, incResult.Full, "a second backup with an unbroken active chain must be incremental")

	restoreTarget := t.TempDir()
	restoreResult, err := Restore(ctx, cfg, be, nil, restoreTarget, time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, restoreResult.SetsApplied, "restoring at the latest time must replay the full set plus the one increment")

	assert.Equal(t, "unchanged content", readFile(t, filepath.Join(restoreTarget, "keep.txt")))
	assert.Equal(t, string(bytes.Repeat([]byte("v2-"), 2000)), readFile(t, filepath.Join(restoreTarget, "edited.txt")))
	assert.Equal(t, "nested content", readFile(t, filepath.Join(restoreTarget, "sub", "nested.txt")))
	assert.Equal(t, "brand new", readFile(t, filepath.Join(restoreTarget, "new.txt")))
	_, err = os.Stat(filepath.Join(restoreTarget, "gone.txt"))
	assert.True(t, os.IsNotExist(err), "a file deleted before the incremental backup must not reappear on restore")

	result, err := Verify(ctx, cfg, be, nil, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, result.Mismatches)
}

func TestRestoreAtEarlierTimeReflectsOnlyTheFullSet(t *testing.T) {
	srcDir := t.TempDir()
	archiveDir := t.TempDir()
	t.Setenv("VAULTIK_TEST_PASS", "another-test-passphrase")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("original"), 0o644))

	cfg := testConfig(srcDir, archiveDir, "VAULTIK_TEST_PASS")
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()
	logger := discardLogger()

	t1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := Backup(ctx, cfg, be, nil, logger, t1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("changed"), 0o644))
	t2 := t1.Add(time.Hour)
	_, err = Backup(ctx, cfg, be, nil, logger, t2)
	require.NoError(t, err)

	restoreAtT1 := t.TempDir()
	result, err := Restore(ctx, cfg, be, nil, restoreAtT1, t1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SetsApplied, "restoring exactly at the full backup's timestamp must not replay the later increment")
	assert.Equal(t, "original", readFile(t, filepath.Join(restoreAtT1, "a.txt")))
}

func TestRestoreWithWrongPassphraseFails(t *testing.T) {
	srcDir := t.TempDir()
	archiveDir := t.TempDir()
	t.Setenv("VAULTIK_TEST_PASS", "right-passphrase")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("secret"), 0o644))

	cfg := testConfig(srcDir, archiveDir, "VAULTIK_TEST_PASS")
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()

	_, err := Backup(ctx, cfg, be, nil, discardLogger(), time.Now())
	require.NoError(t, err)

	t.Setenv("VAULTIK_TEST_PASS", "wrong-passphrase")
	_, err = Restore(ctx, cfg, be, nil, t.TempDir(), time.Time{}, nil)
	require.Error(t, err)
}

func TestRemoveOlderThanKeepsMostRecentChainRegardlessOfAge(t *testing.T) {
	archiveDir := t.TempDir()
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	uploadDummyFullSet(t, be, old)

	cfg := testConfig(t.TempDir(), archiveDir, "unused")
	threshold := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := RemoveOlderThan(ctx, cfg, be, nil, threshold)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemovedChains, "the only chain in the archive is always kept, no matter how old")

	names, err := be.List()
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}

func TestRemoveOlderThanDeletesAgedChainsButKeepsNewest(t *testing.T) {
	archiveDir := t.TempDir()
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	uploadDummyFullSet(t, be, old)
	uploadDummyFullSet(t, be, newer)

	cfg := testConfig(t.TempDir(), archiveDir, "unused")
	threshold := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := RemoveOlderThan(ctx, cfg, be, nil, threshold)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedChains)

	names, err := be.List()
	require.NoError(t, err)
	for _, n := range names {
		parsed, ok, err := naming.Parse(n)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, parsed.Time.Equal(newer) || parsed.Time.IsZero(), "only the newer chain's files must remain")
	}
}

func TestRemoveAllButNFullKeepsOnlyMostRecentN(t *testing.T) {
	archiveDir := t.TempDir()
	be := backend.NewLocal(archiveDir)
	ctx := context.Background()

	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	uploadDummyFullSet(t, be, t1)
	uploadDummyFullSet(t, be, t2)
	uploadDummyFullSet(t, be, t3)

	cfg := testConfig(t.TempDir(), archiveDir, "unused")

	result, err := RemoveAllButNFull(ctx, cfg, be, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RemovedChains)

	names, err := be.List()
	require.NoError(t, err)
	for _, n := range names {
		parsed, ok, err := naming.Parse(n)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, parsed.Time.Equal(t3))
	}
}

func TestRemoveAllButNFullRejectsNegativeKeep(t *testing.T) {
	cfg := testConfig(t.TempDir(), t.TempDir(), "unused")
	_, err := RemoveAllButNFull(context.Background(), cfg, backend.NewLocal(t.TempDir()), nil, -1)
	require.Error(t, err)
}

// uploadDummyFullSet uploads an empty manifest and single volume for a full
// backup set at the given time, enough for the collections layer to group
// it into a complete chain without needing real backup content.
func uploadDummyFullSet(t *testing.T, be backend.Backend, at time.Time) {
	t.Helper()

	manifestName, err := naming.Render(naming.Name{Kind: naming.FullManifest, Time: at}, naming.DefaultTimeSeparator)
	require.NoError(t, err)
	volumeName, err := naming.Render(naming.Name{Kind: naming.FullVolume, Time: at, Volume: 1}, naming.DefaultTimeSeparator)
	require.NoError(t, err)

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest")
	require.NoError(t, os.WriteFile(manifestPath, []byte{}, 0o644))
	volumePath := filepath.Join(dir, "volume")
	require.NoError(t, os.WriteFile(volumePath, []byte("dummy"), 0o644))

	require.NoError(t, be.Put(manifestPath, manifestName))
	require.NoError(t, be.Put(volumePath, volumeName))
}
