package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/statuscache"
)

// RetentionResult summarizes a completed removal for the CLI layer.
type RetentionResult struct {
	RemovedChains int
	RemovedFiles  int
}

// RemoveOlderThan deletes every backup chain (and its matching signature
// chain, if any) whose end time falls before threshold, except the single
// most recent chain — which is always kept regardless of its age, since a
// session with no chain left to build the next increment onto would be
// forced back to a full backup on every future run.
func RemoveOlderThan(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, threshold time.Time) (*RetentionResult, error) {
	snap, err := LoadSnapshot(ctx, be, cache, cfg.Session.ArchiveDir)
	if err != nil {
		return nil, err
	}
	if len(snap.BackupChains) == 0 {
		return &RetentionResult{}, nil
	}

	ordered := sortChainsByEnd(snap.BackupChains)

	var toRemove []*collections.BackupChain
	for _, c := range ordered[:len(ordered)-1] {
		if c.EndTime.Before(threshold) {
			toRemove = append(toRemove, c)
		}
	}

	return removeChains(ctx, cfg, be, cache, snap, toRemove)
}

// RemoveAllButNFull keeps the keep most recent backup chains and deletes
// every older one, along with each deleted chain's matching signature
// chain.
func RemoveAllButNFull(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, keep int) (*RetentionResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("engine: remove-all-but-n-full: keep count must be non-negative")
	}

	snap, err := LoadSnapshot(ctx, be, cache, cfg.Session.ArchiveDir)
	if err != nil {
		return nil, err
	}
	if len(snap.BackupChains) <= keep {
		return &RetentionResult{}, nil
	}

	ordered := sortChainsByEnd(snap.BackupChains)
	toRemove := ordered[:len(ordered)-keep]

	return removeChains(ctx, cfg, be, cache, snap, toRemove)
}

func sortChainsByEnd(chains []*collections.BackupChain) []*collections.BackupChain {
	ordered := append([]*collections.BackupChain(nil), chains...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndTime.Before(ordered[j].EndTime) })
	return ordered
}

// removeChains deletes every file belonging to each chain in toRemove (its
// backup sets' manifests and volumes, plus the signature chain whose
// (start, end) window matches it, if any) and invalidates the status
// cache so the next command re-lists the backend.
func removeChains(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, snap *statuscache.Snapshot, toRemove []*collections.BackupChain) (*RetentionResult, error) {
	if len(toRemove) == 0 {
		return &RetentionResult{}, nil
	}

	var names []string
	for _, c := range toRemove {
		for _, s := range c.Sets {
			names = append(names, s.ManifestName)
			for _, v := range s.VolumeNames {
				names = append(names, v)
			}
		}
		for _, sc := range snap.SigChains {
			if sc.StartTime.Equal(c.StartTime) && sc.EndTime.Equal(c.EndTime) {
				for _, s := range sc.Sets {
					names = append(names, s.Name)
				}
			}
		}
	}

	if err := be.Delete(names); err != nil {
		return nil, fmt.Errorf("engine: removing chains: %w", err)
	}

	if cache != nil {
		if err := cache.Invalidate(ctx, cfg.Session.ArchiveDir); err != nil {
			return nil, err
		}
	}

	return &RetentionResult{RemovedChains: len(toRemove), RemovedFiles: len(names)}, nil
}
