package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/engine"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <source> <archive-dir>",
		Short: "Run a backup session, full or incremental as the archive directory dictates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.SourceDir = args[0]
			cfg.Session.ArchiveDir = args[1]
			if err := config.Validate(cfg); err != nil {
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

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			result, err := engine.Backup(ctx, cfg, be, cache, cc.Logger, time.Now())
			if err != nil {
				return err
			}

			kind := "incremental"
			if result.Full {
				kind = "full"
			}
			cc.Statusf("%s backup complete: %d volume(s), %d warning(s), covering %s to %s\n",
				kind, result.VolumeCount, result.Warnings,
				result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339))
			return nil
		},
	}
}
