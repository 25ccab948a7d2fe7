package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/engine"
)

func newRemoveAllButNFullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-all-but-n-full <n> <archive-dir>",
		Short: "Keep only the n most recent backup chains, deleting every older one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.ArchiveDir = args[1]

			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parsing n: %w", err)
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

			result, err := engine.RemoveAllButNFull(cmd.Context(), cfg, be, cache, n)
			if err != nil {
				return err
			}

			cc.Statusf("removed %d chain(s), %d file(s)\n", result.RemovedChains, result.RemovedFiles)
			return nil
		},
	}
}
