package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/diffpatch"
	"github.com/vaultik/vaultik/internal/manifest"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/statuscache"
	"github.com/vaultik/vaultik/internal/volume"
)

// RestoreResult summarizes a completed restore for the CLI layer.
type RestoreResult struct {
	SetsApplied int
	At          time.Time
}

// Restore reconstructs the tree as it stood at t under target. A zero t
// selects the most recent state. The backup chain active at t is chosen via
// collections.GetBackupChainAtTime, and its full set plus every qualifying
// increment (collections.GetSetsAtTime) are replayed onto target in order,
// one delta archive per set.
func Restore(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, target string, t time.Time, onWarn func(pathentry.Index, error)) (*RestoreResult, error) {
	snap, err := LoadSnapshot(ctx, be, cache, cfg.Session.ArchiveDir)
	if err != nil {
		return nil, err
	}
	if len(snap.BackupChains) == 0 {
		return nil, fmt.Errorf("engine: no backup chains found in %s", cfg.Session.ArchiveDir)
	}

	at := t
	if at.IsZero() {
		at = mostRecentChainEnd(snap.BackupChains)
	}

	chain, err := collections.GetBackupChainAtTime(snap.BackupChains, at)
	if err != nil {
		return nil, err
	}
	sets := collections.GetSetsAtTime(chain, at)

	dcfg, err := buildDecryptConfig(cfg)
	if err != nil {
		return nil, err
	}

	patcher := diffpatch.NewPatcher(onWarn)
	for _, set := range sets {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := restoreSet(be, dcfg, set, target, patcher); err != nil {
			return nil, fmt.Errorf("engine: restoring set ending %s: %w", set.EndTime, err)
		}
	}

	return &RestoreResult{SetsApplied: len(sets), At: at}, nil
}

func mostRecentChainEnd(chains []*collections.BackupChain) time.Time {
	best := chains[0].EndTime
	for _, c := range chains[1:] {
		if c.EndTime.After(best) {
			best = c.EndTime
		}
	}
	return best
}

// restoreSet fetches set's manifest and volumes, verifies each volume's
// ciphertext against the manifest's recorded hashes, decrypts and
// concatenates them into one continuous delta-archive stream, and replays
// that stream onto target via patcher.
//
// Only the final volume of a session carries the tar end-of-archive footer
// (see volume.BlockSource.Footer), so every volume of the set must be read
// through in ascending number order for the concatenation to form a valid
// tar stream; stopping early or reordering volumes yields a truncated or
// corrupt archive.
func restoreSet(be backend.Backend, dcfg volume.DecryptConfig, set *collections.BackupSet, target string, patcher *diffpatch.Patcher) error {
	man, err := fetchManifest(be, set.ManifestName)
	if err != nil {
		return err
	}

	nums := make([]int, 0, len(set.VolumeNames))
	for n := range set.VolumeNames {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var readers []io.Reader
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	for _, n := range nums {
		remoteName := set.VolumeNames[n]
		tmpPath, cleanup, err := fetchToTemp(be, remoteName)
		if err != nil {
			return err
		}
		closers = append(closers, cleanup)

		if vi, ok := man.Volumes[n]; ok {
			if err := verifyVolumeHashes(tmpPath, vi); err != nil {
				return err
			}
		}

		f, err := os.Open(tmpPath)
		if err != nil {
			return fmt.Errorf("engine: opening %s: %w", tmpPath, err)
		}
		closers = append(closers, func() { f.Close() })

		plain, _, err := volume.Decrypt(f, dcfg)
		if err != nil {
			return fmt.Errorf("engine: decrypting volume %d of %s: %w", n, remoteName, err)
		}
		readers = append(readers, plain)
	}

	archive := diffpatch.NewDeltaArchiveReader(io.MultiReader(readers...))
	return patcher.Patch(target, archive)
}

func fetchManifest(be backend.Backend, name string) (*manifest.Manifest, error) {
	tmpPath, cleanup, err := fetchToTemp(be, name)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("engine: opening manifest %s: %w", tmpPath, err)
	}
	defer f.Close()

	man, err := manifest.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("engine: parsing manifest %s: %w", name, err)
	}
	return man, nil
}

// verifyVolumeHashes re-hashes the downloaded ciphertext and compares it
// against the manifest's recorded digests before it's ever decrypted, so a
// corrupted download is reported against the file that's wrong rather than
// surfacing later as an inscrutable decrypt or tar-framing failure.
func verifyVolumeHashes(path string, vi *manifest.VolumeInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("engine: opening %s to verify: %w", path, err)
	}
	defer f.Close()

	got, err := manifest.HashFile(f)
	if err != nil {
		return err
	}
	for name, want := range vi.Hashes {
		if got[name] != want {
			return fmt.Errorf("engine: volume %d hash mismatch: %s manifest=%s actual=%s", vi.Volume, name, want, got[name])
		}
	}
	return nil
}
