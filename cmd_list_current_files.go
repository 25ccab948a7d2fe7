package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/engine"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/walk"
)

func newListCurrentFilesCmd() *cobra.Command {
	var timeFlag string

	cmd := &cobra.Command{
		Use:   "list-current-files <archive-dir>",
		Short: "List every path present in the archive at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.ArchiveDir = args[0]

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

			scratch, err := os.MkdirTemp("", "vaultik-list-*")
			if err != nil {
				return fmt.Errorf("creating scratch directory: %w", err)
			}
			defer os.RemoveAll(scratch)

			onWarn := func(idx pathentry.Index, err error) {
				cc.Logger.Warn("list-current-files: skipping entry", "path", idx.Path(), "error", err)
			}

			if _, err := engine.Restore(ctx, cfg, be, cache, scratch, at, onWarn); err != nil {
				return err
			}

			w := walk.New(scratch, walk.AllowAll{}, onWarn)
			for {
				dp, err := w.Next()
				if err != nil {
					break
				}
				if dp.Index.IsRoot() {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), dp.Index.Path())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&timeFlag, "time", "", "list as of this point in time (RFC3339); defaults to the latest state")
	return cmd
}
