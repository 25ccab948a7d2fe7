package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/engine"
	"github.com/vaultik/vaultik/internal/statuscache"
)

func newCollectionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collection-status <archive-dir>",
		Short: "Report the backup chains, signature chains, and orphaned sets found in an archive directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.ArchiveDir = args[0]

			be, err := openBackend(cfg, cfg.Session.ArchiveDir)
			if err != nil {
				return err
			}

			cache, err := openStatusCache(cfg.Session.ArchiveDir, cc.Logger)
			if err != nil {
				return err
			}
			defer cache.Close()

			snap, err := engine.LoadSnapshot(cmd.Context(), be, cache, cfg.Session.ArchiveDir)
			if err != nil {
				return err
			}

			printCollectionStatus(os.Stdout, be, snap)
			return nil
		},
	}
}

func printCollectionStatus(w *os.File, be backend.Backend, snap *statuscache.Snapshot) {
	fmt.Fprintf(w, "Backup chains: %d\n", len(snap.BackupChains))
	rows := make([][]string, 0, len(snap.BackupChains))
	for i, c := range snap.BackupChains {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			formatTime(c.StartTime),
			formatTime(c.EndTime),
			fmt.Sprintf("%d", len(c.Sets)),
			formatSize(backupChainSize(be, c)),
		})
	}
	printTable(w, []string{"#", "start", "end", "sets", "size"}, rows)

	fmt.Fprintf(w, "\nSignature chains: %d\n", len(snap.SigChains))
	sigRows := make([][]string, 0, len(snap.SigChains))
	for i, c := range snap.SigChains {
		sigRows = append(sigRows, []string{
			fmt.Sprintf("%d", i+1),
			formatTime(c.StartTime),
			formatTime(c.EndTime),
			fmt.Sprintf("%d", len(c.Sets)),
			formatSize(sigChainSize(be, c)),
		})
	}
	printTable(w, []string{"#", "start", "end", "sets", "size"}, sigRows)

	if len(snap.Orphaned) > 0 {
		fmt.Fprintf(w, "\n%d orphaned incremental set(s) with no matching chain:\n", len(snap.Orphaned))
		for _, s := range snap.Orphaned {
			fmt.Fprintf(w, "  %s\n", s.ManifestName)
		}
	}

	if len(snap.Ignored) > 0 {
		fmt.Fprintf(w, "\n%d unrecognized file(s) ignored:\n", len(snap.Ignored))
		for _, n := range snap.Ignored {
			fmt.Fprintf(w, "  %s\n", n)
		}
	}
}

// backupChainSize sums the stored size of every manifest and volume across
// a backup chain's sets. A stat failure for one name (e.g. a backend that
// went stale between listing and statting) is treated as zero rather than
// aborting the whole report — collection-status is a best-effort summary,
// not a correctness check.
func backupChainSize(be backend.Backend, c *collections.BackupChain) int64 {
	var total int64
	for _, s := range c.Sets {
		total += sizeOf(be, s.ManifestName)
		for _, name := range s.VolumeNames {
			total += sizeOf(be, name)
		}
	}
	return total
}

// sigChainSize sums the stored size of every signature archive in a
// signature chain.
func sigChainSize(be backend.Backend, c *collections.SignatureChain) int64 {
	var total int64
	for _, s := range c.Sets {
		total += sizeOf(be, s.Name)
	}
	return total
}

func sizeOf(be backend.Backend, name string) int64 {
	n, err := be.Size(name)
	if err != nil {
		return 0
	}
	return n
}
