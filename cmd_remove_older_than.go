package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/engine"
)

func newRemoveOlderThanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-older-than <time> <archive-dir>",
		Short: "Delete every backup chain (and its signature chain) ending before the given time, except the most recent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.ArchiveDir = args[1]

			threshold, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return err
			}

			unlock, err := acquireArchiveLock(cfg.Session.ArchiveDir)
			if err != nil {
				return err
			}
			defer unlock()

			be, err := openBackend(cfg, cfg.Session.ArchiveDir)
			if err != nil {
				return err
			}

			cache, err := openStatusCache(cfg.Session.ArchiveDir, cc.Logger)
			if err != nil {
				return err
			}
			defer cache.Close()

			result, err := engine.RemoveOlderThan(cmd.Context(), cfg, be, cache, threshold)
			if err != nil {
				return err
			}

			cc.Statusf("removed %d chain(s), %d file(s)\n", result.RemovedChains, result.RemovedFiles)
			return nil
		},
	}
}
