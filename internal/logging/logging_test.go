package logging

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevelRecognizesAllNames(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(LevelDebug))
	assert.Equal(t, slog.LevelInfo, ParseLevel(LevelInfo))
	assert.Equal(t, slog.LevelWarn, ParseLevel(LevelWarn))
	assert.Equal(t, slog.LevelError, ParseLevel(LevelError))
}

func TestParseLevelDefaultsToWarnOnUnrecognizedName(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel(""))
	assert.Equal(t, slog.LevelWarn, ParseLevel("bogus"))
}

func TestBytesRendersHumanReadableSizes(t *testing.T) {
	assert.Equal(t, "1.0 MB", Bytes(1_000_000))
}

func TestRelativeTimeRendersPast(t *testing.T) {
	past := time.Now().Add(-3 * time.Hour)
	got := RelativeTime(past)
	assert.Contains(t, got, "ago")
}

func TestDefaultBuildsNonNilLogger(t *testing.T) {
	logger := Default(slog.LevelWarn)
	assert.NotNil(t, logger)
}
