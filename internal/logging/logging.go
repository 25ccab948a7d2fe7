// Package logging builds the slog.Logger the CLI and engine share, and the
// handful of human-readable formatting helpers used in its messages and in
// collection-status output.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Level names accepted in the config file's logging.level key.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ParseLevel maps a config/flag level name to an slog.Level, defaulting to
// Warn for an empty or unrecognized name so a missing config key degrades
// to the quiet default rather than an error.
func ParseLevel(name string) slog.Level {
	switch name {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// New builds a Logger writing to w at level. When w is *os.File and is
// attached to a terminal, it uses slog's text handler (readable in an
// interactive shell); otherwise it switches to the JSON handler, since a
// piped or redirected stream is almost always consumed by another program
// or a log aggregator.
func New(w *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Default builds a Logger writing to stderr at level, the construction
// every CLI command uses before a session-specific logger (if any) is
// available.
func Default(level slog.Level) *slog.Logger {
	return New(os.Stderr, level)
}

// Bytes renders n bytes in SI (base-1000) units ("128 kB", "1.2 MB") for progress and
// summary log lines — archive sizes routinely exceed what's readable as a
// raw byte count.
func Bytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

// RelativeTime renders t relative to now ("3 minutes ago") for
// collection-status's human-readable timestamps.
func RelativeTime(t time.Time) string {
	return humanize.Time(t)
}
