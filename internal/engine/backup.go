// Package engine orchestrates the full backup/restore session lifecycle on
// top of the lower-level packages: walking and diffing a source tree,
// framing and splitting the result into encrypted volumes, and reversing
// that process on restore. It is the one place that knows how collections,
// diffpatch, volume, manifest, naming, and the backend trait fit together.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/diffpatch"
	"github.com/vaultik/vaultik/internal/manifest"
	"github.com/vaultik/vaultik/internal/naming"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/selector"
	"github.com/vaultik/vaultik/internal/statuscache"
	"github.com/vaultik/vaultik/internal/tarstream"
	"github.com/vaultik/vaultik/internal/tempfile"
	"github.com/vaultik/vaultik/internal/volume"
	"github.com/vaultik/vaultik/internal/walk"
)

// BackupResult summarizes a completed session for the CLI layer to report.
type BackupResult struct {
	Full        bool
	StartTime   time.Time
	EndTime     time.Time
	VolumeCount int
	Warnings    int
}

// Backup runs one backup session: it decides full-vs-incremental from the
// archive directory's current collection graph, diffs the source tree
// against the active signature chain (or against nothing, for a full),
// splits the resulting delta archive into encrypted volumes, uploads them
// alongside a manifest, and finally uploads the next session's signature
// archive. now is the session's single timestamp, used for every artifact
// name produced.
func Backup(ctx context.Context, cfg *config.SessionConfig, be backend.Backend, cache *statuscache.Cache, logger *slog.Logger, now time.Time) (*BackupResult, error) {
	snap, err := LoadSnapshot(ctx, be, cache, cfg.Session.ArchiveDir)
	if err != nil {
		return nil, err
	}

	cipher, err := buildCipher(cfg)
	if err != nil {
		return nil, err
	}

	sigChain, _, active := collections.MatchActivePair(snap.SigChains, snap.BackupChains)
	full := !active

	startTime := now
	if !full {
		startTime = sigChain.EndTime
	}

	warnings := 0
	onWarn := func(idx pathentry.Index, err error) {
		warnings++
		logger.Warn("skipping entry", "path", idx.Path(), "error", err)
	}

	globs := selector.Globs{Includes: cfg.Session.Include, Excludes: cfg.Session.Exclude}
	walker := walk.New(cfg.Session.SourceDir, globs, onWarn)

	var sigIter diffpatch.Iter[*tarstream.Record]
	if full {
		sigIter = emptySigIter{}
	} else {
		sigIter, err = loadSignatureChain(be, sigChain)
		if err != nil {
			return nil, err
		}
	}

	volumeNames, man, recorded, err := splitDeltaArchive(ctx, cfg, cipher, walker, sigIter, onWarn)
	if err != nil {
		return nil, err
	}

	if err := uploadVolumes(be, volumeNames, man, cfg.Session.TimeSeparator, full, startTime, now); err != nil {
		return nil, err
	}

	if err := uploadManifest(be, man, cfg.Session.TimeSeparator, full, startTime, now); err != nil {
		return nil, err
	}

	sigName, err := naming.Render(sigNameFor(full, startTime, now), cfg.Session.TimeSeparator)
	if err != nil {
		return nil, fmt.Errorf("engine: naming signature archive: %w", err)
	}
	if err := uploadSignatureArchive(be, cfg.Session.SourceDir, recorded, sigName); err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Invalidate(ctx, cfg.Session.ArchiveDir); err != nil {
			return nil, err
		}
	}

	return &BackupResult{
		Full:        full,
		StartTime:   startTime,
		EndTime:     now,
		VolumeCount: len(volumeNames),
		Warnings:    warnings,
	}, nil
}

func sigNameFor(full bool, start, end time.Time) naming.Name {
	if full {
		return naming.Name{Kind: naming.FullSig, Time: end}
	}
	return naming.Name{Kind: naming.NewSig, StartTime: start, EndTime: end}
}

// splitDeltaArchive runs Diff and WriteDeltaArchive concurrently, piping
// the framed delta archive through the volume writer, and returns the local
// temp file paths of the written volumes (in volume order), the manifest
// describing them, and the per-record metadata needed to build the next
// signature archive.
func splitDeltaArchive(
	ctx context.Context,
	cfg *config.SessionConfig,
	cipher volume.Cipher,
	newIter diffpatch.Iter[*pathentry.DiskPath],
	sigIter diffpatch.Iter[*tarstream.Record],
	onWarn func(pathentry.Index, error),
) (volumeNames []string, man *manifest.Manifest, recorded []recordMeta, err error) {
	pr, pw := io.Pipe()
	cw := &countingWriter{w: pw}

	var captured []recordMeta
	diffDone := make(chan error, 1)
	recordsCh := make(chan *diffpatch.DeltaRecord)

	go func() {
		defer close(recordsCh)
		derr := diffpatch.Diff(newIter, sigIter, onWarn, func(rec *diffpatch.DeltaRecord) error {
			select {
			case recordsCh <- rec:
			case <-ctx.Done():
				if rec.Content != nil {
					rec.Content.Close()
				}
				return ctx.Err()
			}
			captured = append(captured, recordMeta{Index: rec.Index, Type: rec.Type, Attrs: rec.Attrs, ByteOffset: cw.Count()})
			return nil
		})
		diffDone <- derr
	}()

	writeDone := make(chan error, 1)
	go func() {
		iter := &deltaChanIter{records: recordsCh, errs: diffDone}
		werr := diffpatch.WriteDeltaArchive(cw, iter)
		if werr != nil {
			pw.CloseWithError(werr)
		} else {
			pw.Close()
		}
		writeDone <- werr
	}()

	src := volume.NewBlockSource(pr, int(cfg.Session.VolumeSize))
	w := volume.NewWriter(cipher)
	w.TargetSize = cfg.Session.TargetSize
	w.Fudge = cfg.Session.Fudge
	w.FooterReserve = cfg.Session.FooterReserve

	// cumEnds and hashesByVolume are filled in during the write loop, which
	// runs concurrently with the goroutine appending to captured; the
	// boundary-range pass below only reads captured after <-writeDone has
	// confirmed that goroutine has exited, so there's no concurrent access.
	var cumEnds []int64
	var hashesByVolume []map[string]string

	volNum := 0
	for {
		volNum++
		tmp, verr := tempfile.New(os.TempDir())
		if verr != nil {
			return nil, nil, nil, fmt.Errorf("engine: volume temp file: %w", verr)
		}
		tmpPath := tmp.Name()

		done, werr := w.WriteVolume(tmp, src)
		if werr != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, nil, nil, fmt.Errorf("engine: writing volume %d: %w", volNum, werr)
		}
		if cerr := tmp.Close(); cerr != nil {
			os.Remove(tmpPath)
			return nil, nil, nil, fmt.Errorf("engine: closing volume %d: %w", volNum, cerr)
		}

		hashes, herr := hashFile(tmpPath)
		if herr != nil {
			return nil, nil, nil, herr
		}

		cumEnds = append(cumEnds, cw.Count())
		hashesByVolume = append(hashesByVolume, hashes)
		volumeNames = append(volumeNames, tmpPath)

		if done {
			break
		}
	}

	if err := <-writeDone; err != nil {
		return nil, nil, nil, fmt.Errorf("engine: framing delta archive: %w", err)
	}

	man = manifest.New()
	var prevEnd pathentry.Index
	recordPos := 0
	for i, cumEnd := range cumEnds {
		startIdx, endIdx, newPos := boundaryRange(captured, recordPos, cumEnd, prevEnd)
		recordPos = newPos
		prevEnd = endIdx

		if err := man.AddVolume(&manifest.VolumeInfo{Volume: i + 1, StartIndex: startIdx, EndIndex: endIdx, Hashes: hashesByVolume[i]}); err != nil {
			return nil, nil, nil, err
		}
	}

	return volumeNames, man, captured, nil
}

// boundaryRange consumes every captured record whose ByteOffset falls
// before cumEnd (the cumulative tar-stream byte count after this volume
// was written) and returns the index range they span. A volume that
// captured no new record boundaries (e.g. consumed entirely by the
// top-off trick) is assigned prevEnd as both bounds, the best available
// approximation: it introduced no path the manifest hasn't already
// attributed to an earlier volume.
func boundaryRange(captured []recordMeta, pos int, cumEnd int64, prevEnd pathentry.Index) (start, end pathentry.Index, newPos int) {
	first := true
	start, end = prevEnd, prevEnd
	for pos < len(captured) && captured[pos].ByteOffset < cumEnd {
		if first {
			start = captured[pos].Index
			first = false
		}
		end = captured[pos].Index
		pos++
	}
	return start, end, pos
}

func hashFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("engine: hashing %s: %w", path, err)
	}
	defer f.Close()
	return manifest.HashFile(f)
}

func uploadVolumes(be backend.Backend, localPaths []string, man *manifest.Manifest, sep string, full bool, start, end time.Time) error {
	for _, v := range man.Volumes {
		name, err := naming.Render(volumeNameFor(full, start, end, v.Volume), sep)
		if err != nil {
			return fmt.Errorf("engine: naming volume %d: %w", v.Volume, err)
		}
		if err := be.Put(localPaths[v.Volume-1], name); err != nil {
			return fmt.Errorf("engine: uploading volume %d: %w", v.Volume, err)
		}
		os.Remove(localPaths[v.Volume-1])
	}
	return nil
}

func volumeNameFor(full bool, start, end time.Time, vol int) naming.Name {
	if full {
		return naming.Name{Kind: naming.FullVolume, Time: end, Volume: vol}
	}
	return naming.Name{Kind: naming.IncVolume, StartTime: start, EndTime: end, Volume: vol}
}

func uploadManifest(be backend.Backend, man *manifest.Manifest, sep string, full bool, start, end time.Time) error {
	kind := naming.IncManifest
	if full {
		kind = naming.FullManifest
	}
	name, err := naming.Render(naming.Name{Kind: kind, Time: end, StartTime: start, EndTime: end}, sep)
	if err != nil {
		return fmt.Errorf("engine: naming manifest: %w", err)
	}

	tmp, err := tempfile.New(os.TempDir())
	if err != nil {
		return fmt.Errorf("engine: manifest temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := man.Serialize(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: serializing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: closing manifest temp file: %w", err)
	}

	if err := be.Put(tmpPath, name); err != nil {
		return fmt.Errorf("engine: uploading manifest: %w", err)
	}
	return nil
}

func uploadSignatureArchive(be backend.Backend, sourceRoot string, recorded []recordMeta, name string) error {
	tmp, err := tempfile.New(os.TempDir())
	if err != nil {
		return fmt.Errorf("engine: signature temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeNextSignature(sourceRoot, recorded, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: closing signature temp file: %w", err)
	}

	if err := be.Put(tmpPath, name); err != nil {
		return fmt.Errorf("engine: uploading signature archive: %w", err)
	}
	return nil
}
