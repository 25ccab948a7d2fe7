package diffpatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/robust"
	"github.com/vaultik/vaultik/internal/rsyncfilter"
	"github.com/vaultik/vaultik/internal/tempfile"
	"github.com/vaultik/vaultik/internal/walk"
)

// pendingDir is a directory whose existence has been ensured but whose
// final attributes (mode/uid/gid/mtime) are deferred until every entry
// inside it has been processed, per §4.1.4's two-phase directory visit:
// children may need to be created under a directory whose target mode is
// read-only, so the attributes are the last thing applied.
type pendingDir struct {
	dp    *pathentry.DiskPath
	attrs *pathentry.Entry
}

// Patcher replays a delta archive onto a real directory tree. It is not
// safe for concurrent use; the two-phase directory visit depends on
// processing records in strict index order.
type Patcher struct {
	onWarn   func(pathentry.Index, error)
	dirStack []pendingDir
}

// NewPatcher returns a Patcher. onWarn receives per-record failures; a nil
// onWarn discards them, matching Diff's default.
func NewPatcher(onWarn func(pathentry.Index, error)) *Patcher {
	if onWarn == nil {
		onWarn = func(pathentry.Index, error) {}
	}
	return &Patcher{onWarn: onWarn}
}

// Patch collates a live walk of root against archive and applies each
// resulting (base, record) pair per §4.1.4. A per-record failure is
// classified through robust.Handle (§4.8): benign fs errors report to the
// Patcher's onWarn and that record is skipped, but a fatal error propagates
// and aborts the replay rather than leaving the target tree silently
// half-patched.
func (p *Patcher) Patch(root string, archive Iter[*DeltaRecord]) error {
	w := walk.New(root, walk.AllowAll{}, func(idx pathentry.Index, err error) {
		p.onWarn(idx, fmt.Errorf("walking target tree: %w", err))
	})

	err := Collate[*pathentry.DiskPath, *DeltaRecord](w, archive, func(base *pathentry.DiskPath, rec *DeltaRecord) error {
		idx := resolveIndex(base, rec)
		if err := p.closeFinishedDirs(idx, true); err != nil {
			return err
		}
		if err := p.applyRecord(root, base, rec); err != nil {
			return robust.Handle(idx, err, p.onWarn)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return p.closeFinishedDirs(nil, false)
}

func resolveIndex(base *pathentry.DiskPath, rec *DeltaRecord) pathentry.Index {
	if rec != nil {
		return rec.Index
	}
	return base.Index
}

func isDescendant(idx, ancestor pathentry.Index) bool {
	return idx.HasPrefix(ancestor) && len(idx) > len(ancestor)
}

// closeFinishedDirs pops and finalizes every open directory that next does
// not descend from. hasNext is false only at the very end of the replay,
// when everything remaining on the stack must be closed.
func (p *Patcher) closeFinishedDirs(next pathentry.Index, hasNext bool) error {
	for len(p.dirStack) > 0 {
		top := p.dirStack[len(p.dirStack)-1]
		if hasNext && isDescendant(next, top.dp.Index) {
			break
		}
		if err := top.dp.CopyAttribsToDisk(top.attrs); err != nil {
			return fmt.Errorf("diffpatch: finalizing directory %s: %w", top.dp.Index.Path(), err)
		}
		p.dirStack = p.dirStack[:len(p.dirStack)-1]
	}
	return nil
}

func (p *Patcher) pushPendingDir(dp *pathentry.DiskPath, attrs *pathentry.Entry) {
	p.dirStack = append(p.dirStack, pendingDir{dp: dp, attrs: attrs})
}

func (p *Patcher) applyRecord(root string, base *pathentry.DiskPath, rec *DeltaRecord) error {
	if rec == nil {
		return nil // diff absent: no change
	}

	switch rec.Type {
	case DiffDeleted:
		if base == nil || base.IsAbsent() {
			return nil
		}
		if base.IsDir() {
			return base.DeleteTree()
		}
		return base.Delete()

	case DiffSnapshot:
		return p.applySnapshot(root, base, rec)

	case DiffDiff:
		return p.applyDiff(root, base, rec)

	default:
		return fmt.Errorf("diffpatch: patch: unknown record type %v", rec.Type)
	}
}

// applySnapshot handles base-absent creation, wrong-type replacement, and
// the two-phase directory entry described in §4.1.4.
func (p *Patcher) applySnapshot(root string, base *pathentry.DiskPath, rec *DeltaRecord) error {
	dp := base
	if dp == nil {
		var err error
		dp, err = pathentry.NewDiskPath(root, rec.Index)
		if err != nil {
			return err
		}
	}

	if !dp.IsAbsent() && dp.Kind != rec.Attrs.Kind {
		if dp.IsDir() {
			if err := dp.DeleteTree(); err != nil {
				return err
			}
		} else if err := dp.Delete(); err != nil {
			return err
		}
	}

	if rec.Attrs.IsDir() {
		if dp.IsAbsent() {
			if err := dp.Mkdir(); err != nil {
				return err
			}
		}
		p.pushPendingDir(dp, rec.Attrs)
		return nil
	}

	if !dp.IsAbsent() {
		if err := dp.Delete(); err != nil {
			return err
		}
	}
	return dp.CreateFrom(rec.Attrs, rec.Content)
}

// applyDiff applies an rsync patch against base's current bytes, writing the
// result to a sibling temp file before atomically renaming it over base —
// §4.1.4's "base regular, diff=diff" branch. A base that is absent or not a
// regular file has no valid basis to patch against; the archive's diff
// record carries only a delta, not full content, so this is reported as a
// failure rather than silently treated as a snapshot (see DESIGN.md).
func (p *Patcher) applyDiff(root string, base *pathentry.DiskPath, rec *DeltaRecord) error {
	if base == nil || !base.IsRegular() {
		return fmt.Errorf("diffpatch: patch: no regular basis to apply diff for %s: %w", rec.Index.Path(), robust.ErrNoValidBasis)
	}

	var basisFile *os.File
	err := robust.RetryEINTR(context.Background(), func() error {
		var openErr error
		basisFile, openErr = os.Open(base.Name)
		return openErr
	})
	if err != nil {
		return fmt.Errorf("diffpatch: open basis %s: %w", base.Name, err)
	}
	defer basisFile.Close()

	patched := rsyncfilter.Patch(basisFile, rec.Content)

	tmp, err := tempfile.New(filepath.Dir(base.Name))
	if err != nil {
		return fmt.Errorf("diffpatch: temp file for %s: %w", base.Name, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, patched); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("diffpatch: writing patched %s: %w", base.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("diffpatch: closing patched %s: %w", base.Name, err)
	}

	tmpDP := &pathentry.DiskPath{Root: root, Name: tmpPath, Entry: pathentry.Entry{Index: rec.Index}}
	if err := tmpDP.CopyAttribsToDisk(rec.Attrs); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := robust.RetryEINTR(context.Background(), func() error { return tmpDP.Rename(base) }); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
