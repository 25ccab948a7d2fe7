package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/engine"
	"github.com/vaultik/vaultik/internal/pathentry"
)

func newRestoreCmd() *cobra.Command {
	var timeFlag string

	cmd := &cobra.Command{
		Use:   "restore <archive-dir> <target>",
		Short: "Reconstruct the backed-up tree as of a point in time under target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.ArchiveDir = args[0]
			target := args[1]

			at, err := parseAtTime(timeFlag)
			if err != nil {
				return err
			}

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

			onWarn := func(idx pathentry.Index, err error) {
				cc.Logger.Warn("restore: skipping entry", "path", idx.Path(), "error", err)
			}

			result, err := engine.Restore(ctx, cfg, be, cache, target, at, onWarn)
			if err != nil {
				return err
			}

			cc.Statusf("restored %d set(s) as of %s into %s\n", result.SetsApplied, result.At.Format(time.RFC3339), target)
			return nil
		},
	}

	cmd.Flags().StringVar(&timeFlag, "time", "", "restore to this point in time (RFC3339); defaults to the latest state")
	return cmd
}

// parseAtTime parses --time's RFC3339 value, returning the zero Time (which
// every caller here treats as "latest") when the flag was not given.
func parseAtTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
