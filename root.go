package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/logging"
	"github.com/vaultik/vaultik/internal/statuscache"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBackend    string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIFlags carries the persistent flag values a command's RunE needs beyond
// what's already folded into Cfg.
type CLIFlags struct {
	Quiet bool
}

// CLIContext bundles the resolved session config and logger every command
// builds once in PersistentPreRunE and threads through its RunE — never a
// process-wide singleton (§9 "Global mutable state").
type CLIContext struct {
	Cfg    *config.SessionConfig
	Logger *slog.Logger
	Flags  CLIFlags
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext a command's PersistentPreRunE
// stored on its context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message — every registered command loads config in PersistentPreRunE, so
// a missing context here is always a programmer error in the command tree.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — newRootCmd's PersistentPreRunE did not run")
	}
	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaultik",
		Short:   "Incremental, encrypted directory backup",
		Long:    "vaultik takes signature/delta backups of a directory tree, splits them into encrypted volumes, and restores or verifies them against a point in time.",
		Version: version,
		// Silence Cobra's default error/usage printing — commands report
		// their own errors via main's exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (TOML)")
	cmd.PersistentFlags().StringVar(&flagBackend, "backend", "", `blob-store backend (default: "local")`)
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newCollectionStatusCmd())
	cmd.AddCommand(newListCurrentFilesCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newRemoveOlderThanCmd())
	cmd.AddCommand(newRemoveAllButNFullCmd())

	return cmd
}

// loadConfig resolves the session config from --config (if given) over
// config.Default()'s values, applies the --backend override, builds the
// logger, and stores the resulting CLIContext on the command's context.
func loadConfig(cmd *cobra.Command) error {
	var cfg *config.SessionConfig
	if flagConfigPath != "" {
		loaded, err := config.Load(flagConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if cmd.Flags().Changed("backend") {
		cfg.Session.Backend = flagBackend
	}

	logger := buildLogger(cfg)
	cc := &CLIContext{Cfg: cfg, Logger: logger, Flags: CLIFlags{Quiet: flagQuiet}}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))
	return nil
}

// buildLogger builds the session logger: the config file's logging.level
// is the baseline, CLI flags override it because they always win, matching
// the mutually-exclusive verbose/debug/quiet flag set above.
func buildLogger(cfg *config.SessionConfig) *slog.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return logging.Default(level)
}

// openBackend constructs the backend.Backend the resolved config names.
// "local" is the only shipped backend, rooted at archiveDir.
func openBackend(cfg *config.SessionConfig, archiveDir string) (backend.Backend, error) {
	switch cfg.Session.Backend {
	case "", "local":
		return backend.NewLocal(archiveDir), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Session.Backend)
	}
}

// statusCacheFileName is the sqlite database collection-status/restore keep
// inside the archive directory, alongside the volumes and manifests it
// describes.
const statusCacheFileName = ".vaultik-status-cache.sqlite"

// openStatusCache opens the archive directory's cached collection-graph
// database, creating it (and applying migrations) on first use.
func openStatusCache(archiveDir string, logger *slog.Logger) (*statuscache.Cache, error) {
	if err := os.MkdirAll(archiveDir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return statuscache.Open(filepath.Join(archiveDir, statusCacheFileName), logger)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
