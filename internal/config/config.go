// Package config implements TOML configuration loading, validation, and
// default resolution for a backup session: source directory, archive
// directory, volume sizing, selection globs, cipher parameters, the time
// separator (config file's [session] table) and the log level ([logging]
// table, which the CLI's -v/--debug/-q flags override).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/vaultik/vaultik/internal/naming"
	"github.com/vaultik/vaultik/internal/volume"
)

// SessionConfig is the single merged configuration value every command
// builds once and passes by reference through the engine — there is no
// global mutable config singleton, following the resolved-config-by-value
// pattern of a layered CLI-flags-over-file-over-defaults merge.
type SessionConfig struct {
	Session SessionSection `toml:"session"`
	Cipher  CipherSection  `toml:"cipher"`
	Logging LoggingSection `toml:"logging"`
}

// SessionSection controls what gets backed up and how it's split.
type SessionSection struct {
	SourceDir     string   `toml:"source_dir"`
	ArchiveDir    string   `toml:"archive_dir"`
	Backend       string   `toml:"backend"` // "local" is the only shipped value
	VolumeSize    int64    `toml:"volume_size"`
	TargetSize    int64    `toml:"target_size"`
	Fudge         int64    `toml:"fudge"`
	FooterReserve int64    `toml:"footer_reserve"`
	Include       []string `toml:"include"`
	Exclude       []string `toml:"exclude"`
	TimeSeparator string   `toml:"time_separator"`
}

// CipherSection controls the GPG encryption the volume writer applies and
// the keys restore needs to reverse it.
type CipherSection struct {
	PassphraseEnv string   `toml:"passphrase_env"` // env var holding the passphrase, never the file itself
	Recipients    []string `toml:"recipients"`      // armored public key paths, encrypt direction
	SignKey       string   `toml:"sign_key"`        // armored private key path, optional, encrypt direction
	DecryptKey    string   `toml:"decrypt_key"`     // armored private key path, decrypt direction, public-key mode only
}

// LoggingSection controls the session logger.
type LoggingSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // decoded but not read: the handler is text on a terminal, JSON otherwise
}

// Default returns a SessionConfig populated with the defaults every other
// layer (config file, then CLI flags) overrides piece by piece.
func Default() *SessionConfig {
	return &SessionConfig{
		Session: SessionSection{
			Backend:       "local",
			VolumeSize:    1 << 20,
			TargetSize:    volume.DefaultTargetSize,
			Fudge:         volume.DefaultFudge,
			FooterReserve: volume.DefaultFooterReserve,
			TimeSeparator: naming.DefaultTimeSeparator,
		},
		Logging: LoggingSection{
			Level:  "warn",
			Format: "auto",
		},
	}
}

// Load reads and decodes the TOML file at path over Default()'s values, so
// any table or key the file omits keeps its default.
func Load(path string) (*SessionConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants Load and CLI-flag overrides can't enforce by
// construction: required paths present, positive sizes, sane ordering
// between fudge/footer-reserve and target size.
func Validate(cfg *SessionConfig) error {
	if cfg.Session.SourceDir == "" {
		return fmt.Errorf("session.source_dir is required")
	}
	if cfg.Session.ArchiveDir == "" {
		return fmt.Errorf("session.archive_dir is required")
	}
	if cfg.Session.TargetSize <= 0 {
		return fmt.Errorf("session.target_size must be positive")
	}
	if cfg.Session.Fudge+cfg.Session.FooterReserve >= cfg.Session.TargetSize {
		return fmt.Errorf("session.fudge + session.footer_reserve must be less than session.target_size")
	}
	if cfg.Session.Backend != "local" {
		return fmt.Errorf("session.backend %q is not a known backend", cfg.Session.Backend)
	}
	return nil
}
