package diffpatch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/robust"
	"github.com/vaultik/vaultik/internal/rsyncfilter"
	"github.com/vaultik/vaultik/internal/tarstream"
)

// DiffType tags a DeltaRecord's kind, mirroring the tar-name prefixes the
// delta archive uses to frame it.
type DiffType int

const (
	DiffDeleted DiffType = iota
	DiffSnapshot
	DiffDiff
)

func (t DiffType) String() string {
	switch t {
	case DiffDeleted:
		return "deleted"
	case DiffSnapshot:
		return "snapshot"
	case DiffDiff:
		return "diff"
	default:
		return "unknown"
	}
}

// IdxOf returns rec's index, satisfying the collate package's Indexed
// constraint so a DeltaRecord stream can be collated against a live walk.
func (rec *DeltaRecord) IdxOf() pathentry.Index { return rec.Index }

// DeltaRecord is one output of Diff: an index, its kind, the new side's
// attributes (nil for a deletion), and — for snapshot/diff records on a
// regular file — Content streaming the payload to frame into the archive.
// The caller must fully read and Close Content before requesting the next
// record; Diff does not buffer concurrent records.
type DeltaRecord struct {
	Index   pathentry.Index
	Type    DiffType
	Attrs   *pathentry.Entry
	Content io.ReadCloser
}

// Diff collates newIter (a live tree walk) against sigIter (the previous
// session's signature archive, decoded via tarstream.Reader) and invokes
// yield once per resulting DeltaRecord, per §4.1.2. Equal entries are
// silently skipped. An error opening a file is classified through
// robust.Handle (§4.8): a benign fs error reports to onWarn and drops that
// single record without aborting the walk, but a fatal one propagates out
// of Diff so the caller aborts the session rather than silently treating
// corruption as a skip. Read and rsync failures happen later, while the
// consumer drains a record's Content; they surface as that Read's error and
// are not routed through robust.Handle.
func Diff(
	newIter Iter[*pathentry.DiskPath],
	sigIter Iter[*tarstream.Record],
	onWarn func(index pathentry.Index, err error),
	yield func(*DeltaRecord) error,
) error {
	if onWarn == nil {
		onWarn = func(pathentry.Index, error) {}
	}

	return Collate(newIter, sigIter, func(np *pathentry.DiskPath, sr *tarstream.Record) error {
		switch {
		case np == nil && sr != nil:
			return yield(&DeltaRecord{Index: sr.Index, Type: DiffDeleted})

		case np != nil && sr == nil:
			rec, err := snapshotRecord(np)
			if err != nil {
				return robust.Handle(np.Index, err, onWarn)
			}
			return yield(rec)

		case np != nil && sr != nil:
			if np.Equal(sr.Entry) {
				return nil
			}
			if np.IsRegular() && sr.Entry.IsRegular() {
				rec, err := diffRecord(np, sr)
				if err != nil {
					return robust.Handle(np.Index, err, onWarn)
				}
				return yield(rec)
			}
			rec, err := snapshotRecord(np)
			if err != nil {
				return robust.Handle(np.Index, err, onWarn)
			}
			return yield(rec)
		}
		return nil
	})
}

// openRetryingEINTR opens path, reissuing the syscall immediately (no
// backoff) up to robust.DefaultEINTRAttempts times if it's interrupted —
// the one real blocking syscall Diff performs per record.
func openRetryingEINTR(path string) (*os.File, error) {
	var f *os.File
	err := robust.RetryEINTR(context.Background(), func() error {
		var openErr error
		f, openErr = os.Open(path)
		return openErr
	})
	return f, err
}

func snapshotRecord(np *pathentry.DiskPath) (*DeltaRecord, error) {
	rec := &DeltaRecord{Index: np.Index, Type: DiffSnapshot, Attrs: np.Entry.Clone()}
	if !np.IsRegular() {
		return rec, nil
	}
	f, err := openRetryingEINTR(np.Name)
	if err != nil {
		return nil, fmt.Errorf("diffpatch: open %s: %w", np.Name, err)
	}
	rec.Content = f
	return rec, nil
}

func diffRecord(np *pathentry.DiskPath, sr *tarstream.Record) (*DeltaRecord, error) {
	f, err := openRetryingEINTR(np.Name)
	if err != nil {
		return nil, fmt.Errorf("diffpatch: open %s: %w", np.Name, err)
	}
	delta := rsyncfilter.Delta(sr.Payload, f)
	return &DeltaRecord{
		Index:   np.Index,
		Type:    DiffDiff,
		Attrs:   np.Entry.Clone(),
		Content: readCloser{Reader: delta, closer: f},
	}, nil
}

// readCloser pairs a derived reader (e.g. the rsync delta pipe) with the
// underlying file it's ultimately reading from, so closing the record
// closes both.
type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error { return rc.closer.Close() }
