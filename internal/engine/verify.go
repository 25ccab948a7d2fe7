package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/diffpatch"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/statuscache"
	"github.com/vaultik/vaultik/internal/walk"
)

// ErrMismatch is returned by Verify when source and the restored state at t
// disagree on at least one path. The CLI prints the mismatches and exits
// with status 1 without the "Error:" line it prints for other failures; the
// exit status itself is the same.
var ErrMismatch = errors.New("engine: source tree does not match the archived state")

// Mismatch describes one path where Verify found source and the restored
// tree disagreeing.
type Mismatch struct {
	Path   string
	Reason string
}

// VerifyResult holds every Mismatch found, in index order.
type VerifyResult struct {
	Mismatches []Mismatch
}

// Verify restores source's archived state at t into a scratch directory and
// compares it entry by entry against the live source tree: metadata via
// pathentry.Entry.Equal, and content via a SHA-256 digest of each regular
// file's full bytes, since Equal deliberately never compares file bytes
// (only the sig side of the pipeline ever sees just a signature, not
// content — see pathentry.Entry.Equal). If any path disagrees, it returns
// the non-empty VerifyResult together with an error wrapping ErrMismatch.
func Verify(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, t time.Time) (*VerifyResult, error) {
	scratch, err := os.MkdirTemp("", "vaultik-verify-*")
	if err != nil {
		return nil, fmt.Errorf("engine: creating verify scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var warnings []string
	onWarn := func(idx pathentry.Index, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", idx.Path(), err))
	}

	if _, err := Restore(ctx, cfg, be, cache, scratch, t, onWarn); err != nil {
		return nil, fmt.Errorf("engine: verify: restoring comparison tree: %w", err)
	}

	sourceWalker := walk.New(cfg.Session.SourceDir, walk.AllowAll{}, onWarn)
	restoredWalker := walk.New(scratch, walk.AllowAll{}, onWarn)

	var result VerifyResult
	err = diffpatch.Collate[*pathentry.DiskPath, *pathentry.DiskPath](sourceWalker, restoredWalker, func(src, restored *pathentry.DiskPath) error {
		return compareEntry(src, restored, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: verify: comparing trees: %w", err)
	}

	if len(result.Mismatches) > 0 {
		return &result, fmt.Errorf("%w: %d path(s) differ", ErrMismatch, len(result.Mismatches))
	}
	return &result, nil
}

func compareEntry(src, restored *pathentry.DiskPath, result *VerifyResult) error {
	switch {
	case src == nil:
		result.Mismatches = append(result.Mismatches, Mismatch{Path: restored.Index.Path(), Reason: "present in restored tree but missing from source"})
		return nil
	case restored == nil:
		result.Mismatches = append(result.Mismatches, Mismatch{Path: src.Index.Path(), Reason: "present in source but missing from restored tree"})
		return nil
	}

	path := src.Index.Path()

	if !src.Entry.Equal(&restored.Entry) {
		result.Mismatches = append(result.Mismatches, Mismatch{Path: path, Reason: fmt.Sprintf("metadata differs: source kind=%s restored kind=%s", src.Kind, restored.Kind)})
		return nil
	}

	if !src.IsRegular() {
		return nil
	}

	equal, err := filesEqual(src.Name, restored.Name)
	if err != nil {
		return fmt.Errorf("comparing %s: %w", path, err)
	}
	if !equal {
		result.Mismatches = append(result.Mismatches, Mismatch{Path: path, Reason: "content differs"})
	}
	return nil
}

func filesEqual(a, b string) (bool, error) {
	ha, err := hashPath(a)
	if err != nil {
		return false, err
	}
	hb, err := hashPath(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func hashPath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
