package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/vaultik/vaultik/internal/backend"
	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/diffpatch"
	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/rsyncfilter"
	"github.com/vaultik/vaultik/internal/tarstream"
)

// sigTombstonePrefix marks a signature-archive entry as recording a
// deletion rather than a present path, mirroring the delta archive's
// "deleted/" framing convention (§4.1.3) so a later new-signatures
// increment can override an earlier layer's record of a path that no
// longer exists.
const sigTombstonePrefix = "deleted/"

// sigMarkerEntry is the placeholder attrs frame written for a tombstone —
// its tar header exists only to carry a name.
var sigMarkerEntry = &pathentry.Entry{Kind: pathentry.KindRegular}

// sigRecordIter adapts a materialized slice of *tarstream.Record into a
// diffpatch.Iter, the shape Diff's sigIter argument expects.
type sigRecordIter struct {
	records []*tarstream.Record
	pos     int
}

func (s *sigRecordIter) Next() (*tarstream.Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// emptySigIter is the sigIter Diff is given for a full backup: every new
// entry is reported with no prior signature, so Diff yields a snapshot
// record for each one.
type emptySigIter struct{}

func (emptySigIter) Next() (*tarstream.Record, error) { return nil, io.EOF }

// loadSignatureChain fetches every signature archive in chain (the full
// signature followed by each new-signatures increment, in chain order)
// and merges them into one index-ordered sequence: a later archive's
// record for a path overrides an earlier one, and a tombstone removes the
// path from the merged result entirely — exactly how a duplicity
// new-signatures increment is defined relative to what came before.
//
// Signature payloads are read fully into memory here: a *tarstream.Record
// read from a *tarstream.Reader becomes unreadable once the underlying
// tar.Reader advances to the next header, so a chain spanning several
// archive files can't be streamed lazily through tarstream.Reader alone.
func loadSignatureChain(be backend.Backend, chain *collections.SignatureChain) (diffpatch.Iter[*tarstream.Record], error) {
	merged := map[string]*tarstream.Record{}

	for _, set := range chain.Sets {
		if err := mergeSignatureFile(be, set.Name, merged); err != nil {
			return nil, err
		}
	}

	out := make([]*tarstream.Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index.Less(out[j].Index) })
	return &sigRecordIter{records: out}, nil
}

func mergeSignatureFile(be backend.Backend, name string, merged map[string]*tarstream.Record) error {
	tmpPath, cleanup, err := fetchToTemp(be, name)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("engine: opening %s: %w", tmpPath, err)
	}
	defer f.Close()

	tr := tarstream.NewReader(f, "")
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("engine: reading %s: %w", name, err)
		}

		if strings.HasPrefix(rec.Name, sigTombstonePrefix) {
			delete(merged, tarstream.TarNameToIndex(strings.TrimPrefix(rec.Name, sigTombstonePrefix)).Path())
			continue
		}

		if rec.Payload != nil {
			buf, err := io.ReadAll(rec.Payload)
			if err != nil {
				return fmt.Errorf("engine: reading signature payload for %s: %w", rec.Index.Path(), err)
			}
			rec.Payload = bytes.NewReader(buf)
		}
		merged[rec.Index.Path()] = rec
	}
	return nil
}

// recordMeta is the subset of a DeltaRecord the new signature archive
// needs, captured as records stream past on their way into the delta
// archive.
type recordMeta struct {
	Index pathentry.Index
	Type  diffpatch.DiffType
	Attrs *pathentry.Entry

	// ByteOffset is the cumulative byte count the delta-archive tar stream
	// had reached immediately before this record was framed into it — used
	// to approximate which volume a record's path falls into (see
	// boundaryRange in backup.go).
	ByteOffset int64
}

// writeNextSignature writes the signature archive this session hands to
// the next one: one entry per changed path (deletions as tombstones,
// everything else with its attrs and, for regular files, a fresh
// librsync signature of its current on-disk bytes). sourceRoot is the
// tree backup walked; recs is in the index order Diff produced them in.
//
// Re-reading each regular file from disk here, after it was already read
// once to build the delta/snapshot record, costs a second pass over
// changed file bytes. The alternative — teeing the signature computation
// through the same read used to build the delta record — doesn't compose
// cleanly with DiffDiff records, whose Content is already the rsync delta
// rather than the file's raw bytes, so this rewrite takes the simpler
// two-pass approach and accepts the extra I/O (see DESIGN.md).
func writeNextSignature(sourceRoot string, recs []recordMeta, w io.Writer) error {
	tw := tarstream.NewWriter(w)

	for _, rec := range recs {
		if rec.Type == diffpatch.DiffDeleted {
			if err := tw.WriteEntry(sigTombstonePrefix, rec.Index, sigMarkerEntry, 0, nil); err != nil {
				return fmt.Errorf("engine: writing signature tombstone for %s: %w", rec.Index.Path(), err)
			}
			continue
		}

		if !rec.Attrs.IsRegular() {
			if err := tw.WriteEntry("", rec.Index, rec.Attrs, 0, nil); err != nil {
				return fmt.Errorf("engine: writing signature entry for %s: %w", rec.Index.Path(), err)
			}
			continue
		}

		sig, err := signFile(sourceRoot, rec.Index)
		if err != nil {
			return err
		}
		if err := tw.WriteEntry("", rec.Index, rec.Attrs, int64(len(sig)), bytes.NewReader(sig)); err != nil {
			return fmt.Errorf("engine: writing signature payload for %s: %w", rec.Index.Path(), err)
		}
	}

	return tw.Close()
}

func signFile(sourceRoot string, index pathentry.Index) ([]byte, error) {
	name := joinIndex(sourceRoot, index)
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("engine: opening %s to sign: %w", name, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(rsyncfilter.Sig(f))
	if err != nil {
		return nil, fmt.Errorf("engine: signing %s: %w", name, err)
	}
	return buf, nil
}
