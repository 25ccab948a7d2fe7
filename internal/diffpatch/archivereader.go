package diffpatch

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/tarstream"
)

// parsedEntry is one raw tar entry from a delta archive, classified by its
// name prefix, before it's turned into a DeltaRecord.
type parsedEntry struct {
	category string // "deleted", "snapshot", "diff", "multivol"
	path     string // tar-name-level path, category prefix and multivol /n suffix stripped
	n        int    // multivol chunk number, 1-based; unused otherwise
	index    pathentry.Index
	entry    *pathentry.Entry
	payload  io.Reader
}

func parseRaw(rec *tarstream.Record) (*parsedEntry, error) {
	switch {
	case strings.HasPrefix(rec.Name, prefixDeleted):
		path := strings.TrimPrefix(rec.Name, prefixDeleted)
		return &parsedEntry{category: "deleted", path: path, index: tarstream.TarNameToIndex(path), entry: rec.Entry, payload: rec.Payload}, nil

	case strings.HasPrefix(rec.Name, prefixSnapshot):
		path := strings.TrimPrefix(rec.Name, prefixSnapshot)
		return &parsedEntry{category: "snapshot", path: path, index: tarstream.TarNameToIndex(path), entry: rec.Entry, payload: rec.Payload}, nil

	case strings.HasPrefix(rec.Name, prefixMultivolDiff):
		rest := strings.TrimPrefix(rec.Name, prefixMultivolDiff)
		idx := strings.LastIndex(rest, "/")
		if idx < 0 {
			return nil, fmt.Errorf("diffpatch: malformed multivol entry name %q", rec.Name)
		}
		path, nStr := rest[:idx], rest[idx+1:]
		n, err := strconv.Atoi(nStr)
		if err != nil {
			return nil, fmt.Errorf("diffpatch: malformed multivol chunk number in %q: %w", rec.Name, err)
		}
		return &parsedEntry{category: "multivol", path: path, n: n, index: tarstream.TarNameToIndex(path), entry: rec.Entry, payload: rec.Payload}, nil

	case strings.HasPrefix(rec.Name, prefixDiff):
		path := strings.TrimPrefix(rec.Name, prefixDiff)
		return &parsedEntry{category: "diff", path: path, index: tarstream.TarNameToIndex(path), entry: rec.Entry, payload: rec.Payload}, nil

	default:
		return nil, fmt.Errorf("diffpatch: unrecognized delta archive entry %q", rec.Name)
	}
}

// DeltaArchiveReader decodes a tar stream produced by WriteDeltaArchive back
// into an ordered sequence of *DeltaRecord, reassembling multivol_diff runs
// into a single synthetic Content reader per §4.1.5. It satisfies
// Iter[*DeltaRecord] and is the "b" side collated against a live tree walk
// during patch.
type DeltaArchiveReader struct {
	tr     *tarstream.Reader
	peeked *parsedEntry
}

// NewDeltaArchiveReader wraps r, a stream written by WriteDeltaArchive.
func NewDeltaArchiveReader(r io.Reader) *DeltaArchiveReader {
	return &DeltaArchiveReader{tr: tarstream.NewReader(r, "")}
}

// nextParsed returns the held-back entry if one is pending, otherwise reads
// and classifies the next raw tar entry. Propagates io.EOF unchanged.
func (d *DeltaArchiveReader) nextParsed() (*parsedEntry, error) {
	if d.peeked != nil {
		pe := d.peeked
		d.peeked = nil
		return pe, nil
	}
	rec, err := d.tr.Next()
	if err != nil {
		return nil, err
	}
	return parseRaw(rec)
}

// Next returns the next DeltaRecord, or io.EOF when the archive is
// exhausted.
func (d *DeltaArchiveReader) Next() (*DeltaRecord, error) {
	pe, err := d.nextParsed()
	if err != nil {
		return nil, err
	}

	switch pe.category {
	case "deleted":
		return &DeltaRecord{Index: pe.index, Type: DiffDeleted}, nil

	case "snapshot":
		rec := &DeltaRecord{Index: pe.index, Type: DiffSnapshot, Attrs: pe.entry}
		if pe.entry.IsRegular() {
			rec.Content = io.NopCloser(pe.payload)
		}
		return rec, nil

	case "diff":
		return &DeltaRecord{Index: pe.index, Type: DiffDiff, Attrs: pe.entry, Content: io.NopCloser(pe.payload)}, nil

	case "multivol":
		if pe.n != 1 {
			return nil, fmt.Errorf("diffpatch: multivol run for %s starts at chunk %d, want 1", pe.path, pe.n)
		}
		mv := &multivolReader{dr: d, path: pe.path, expectedN: 2, current: pe.payload}
		return &DeltaRecord{Index: pe.index, Type: DiffDiff, Attrs: pe.entry, Content: mv}, nil

	default:
		return nil, fmt.Errorf("diffpatch: unreachable category %q", pe.category)
	}
}

// multivolReader presents a run of multivol_diff/<path>/<n> tar entries
// sharing one path as a single contiguous stream to the rsync patch filter.
// It lazily advances the underlying DeltaArchiveReader one chunk at a time;
// the first tar entry belonging to a different path (or not a multivol
// entry at all) is held back on dr.peeked rather than consumed, so the
// outer patch loop resumes from exactly that entry.
type multivolReader struct {
	dr        *DeltaArchiveReader
	path      string
	expectedN int
	current   io.Reader
	done      bool
}

func (m *multivolReader) Read(p []byte) (int, error) {
	for {
		if m.current != nil {
			n, err := m.current.Read(p)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			m.current = nil
			continue
		}

		if m.done {
			return 0, io.EOF
		}

		pe, err := m.dr.nextParsed()
		if err == io.EOF {
			m.done = true
			continue
		}
		if err != nil {
			return 0, err
		}

		if pe.category == "multivol" && pe.path == m.path && pe.n == m.expectedN {
			m.current = pe.payload
			m.expectedN++
			continue
		}

		m.dr.peeked = pe
		m.done = true
	}
}

// Close implements the documented abort path: any remaining chunks of this
// multivol run are discarded by advancing past them without reading their
// payloads (archive/tar's Reader.Next skips unread bytes itself), and the
// first entry that does not belong to this run is left held back on
// dr.peeked — never a half-read chunk, never an undefined resume point.
func (m *multivolReader) Close() error {
	if m.done {
		return nil
	}
	for {
		pe, err := m.dr.nextParsed()
		if err == io.EOF {
			m.done = true
			return nil
		}
		if err != nil {
			return err
		}
		if pe.category == "multivol" && pe.path == m.path {
			continue
		}
		m.dr.peeked = pe
		m.done = true
		return nil
	}
}
