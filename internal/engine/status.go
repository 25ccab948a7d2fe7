package engine

import (
	"context"
	"fmt"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/statuscache"
)

// LoadSnapshot lists archiveDir's backend, parses the result into backup
// sets, signature sets, and their assembled chains, and returns the whole
// graph — consulting cache first and populating it on a miss, per
// statuscache's digest-of-file-list invalidation scheme. Every command
// that needs the collection graph (backup, restore, collection-status,
// list-current-files, the removal commands) goes through this one path.
func LoadSnapshot(ctx context.Context, be backend.Backend, cache *statuscache.Cache, archiveDir string) (*statuscache.Snapshot, error) {
	names, err := be.List()
	if err != nil {
		return nil, fmt.Errorf("engine: listing %s: %w", archiveDir, err)
	}

	if cache != nil {
		if snap, ok, err := cache.Get(ctx, archiveDir, names); err != nil {
			return nil, err
		} else if ok {
			return snap, nil
		}
	}

	snap, err := buildSnapshot(names)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Put(ctx, archiveDir, names, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func buildSnapshot(names []string) (*statuscache.Snapshot, error) {
	backupSets, ignoredBackup, err := collections.GroupBackupSets(names)
	if err != nil {
		return nil, fmt.Errorf("engine: grouping backup sets: %w", err)
	}
	sigSets, ignoredSig, err := collections.GroupSigSets(names)
	if err != nil {
		return nil, fmt.Errorf("engine: grouping signature sets: %w", err)
	}

	backupChains, orphanedBackup := collections.AssembleBackupChains(backupSets)
	sigChains, orphanedSig := collections.AssembleSignatureChains(sigSets)

	ignored := append(append([]string(nil), ignoredBackup...), ignoredSig...)
	for _, s := range orphanedSig {
		ignored = append(ignored, s.Name)
	}

	return &statuscache.Snapshot{
		BackupSets:   backupSets,
		SigSets:      sigSets,
		Ignored:      ignored,
		BackupChains: backupChains,
		SigChains:    sigChains,
		Orphaned:     orphanedBackup,
	}, nil
}
