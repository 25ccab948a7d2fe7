package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/engine"
)

func newVerifyCmd() *cobra.Command {
	var timeFlag string

	cmd := &cobra.Command{
		Use:   "verify <source> <archive-dir>",
		Short: "Compare the live source tree against the archived state at a point in time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			cfg := cc.Cfg
			cfg.Session.SourceDir = args[0]
			cfg.Session.ArchiveDir = args[1]

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

			result, err := engine.Verify(ctx, cfg, be, cache, at)
			if err != nil && !errors.Is(err, engine.ErrMismatch) {
				return err
			}

			if result != nil && len(result.Mismatches) > 0 {
				for _, m := range result.Mismatches {
					fmt.Fprintf(os.Stdout, "%s: %s\n", m.Path, m.Reason)
				}
				return engine.ErrMismatch
			}

			cc.Statusf("verify: source matches the archived state\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&timeFlag, "time", "", "verify against this point in time (RFC3339); defaults to the latest state")
	return cmd
}
