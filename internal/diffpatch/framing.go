package diffpatch

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/tarstream"
)

// VolumeSize bounds a single diff/ tar entry's payload before the framer
// switches to the multivol_diff/<path>/<n> chunking scheme (§4.1.3). 1 MiB
// keeps any one chunk small relative to the eventual ~50 MiB output volume,
// so a single oversized diff can't dominate a volume's top-off math (§4.4).
const VolumeSize = 1 << 20

const (
	prefixDeleted      = "deleted/"
	prefixSnapshot     = "snapshot/"
	prefixDiff         = "diff/"
	prefixMultivolDiff = "multivol_diff/"
)

// markerEntry is written for records that carry no real attributes —
// currently only "deleted", whose tar header exists to carry a name, not a
// stat result.
var markerEntry = &pathentry.Entry{Kind: pathentry.KindRegular}

// WriteDeltaArchive drains records, writing one or more tar entries per
// record using the snapshot/diff/deleted/multivol_diff naming convention,
// and closes each record's Content once framed.
func WriteDeltaArchive(w io.Writer, records Iter[*DeltaRecord]) error {
	tw := tarstream.NewWriter(w)

	for {
		rec, err := records.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("diffpatch: delta archive: %w", err)
		}

		if err := writeRecord(tw, rec); err != nil {
			if rec.Content != nil {
				rec.Content.Close()
			}
			return err
		}
		if rec.Content != nil {
			if err := rec.Content.Close(); err != nil {
				return fmt.Errorf("diffpatch: closing content for %s: %w", rec.Index.Path(), err)
			}
		}
	}

	return tw.Close()
}

func writeRecord(tw *tarstream.Writer, rec *DeltaRecord) error {
	switch rec.Type {
	case DiffDeleted:
		return tw.WriteEntry(prefixDeleted, rec.Index, markerEntry, 0, nil)

	case DiffSnapshot:
		if rec.Attrs.IsRegular() {
			return tw.WriteEntry(prefixSnapshot, rec.Index, rec.Attrs, rec.Attrs.Size, rec.Content)
		}
		return tw.WriteEntry(prefixSnapshot, rec.Index, rec.Attrs, 0, nil)

	case DiffDiff:
		return writeDiffFramed(tw, rec)

	default:
		return fmt.Errorf("diffpatch: unknown delta record type %v", rec.Type)
	}
}

// writeDiffFramed implements the volume_size decision rule of §4.1.3: a
// delta that fits within VolumeSize becomes a single diff/ entry; a larger
// one is chunked into successive multivol_diff/<path>/<n> entries, 1-based,
// continuing until a chunk strictly shorter than VolumeSize is written
// (which may be empty).
func writeDiffFramed(tw *tarstream.Writer, rec *DeltaRecord) error {
	name := tarstream.IndexToTarName(rec.Index)

	chunk, err := readChunk(rec.Content, VolumeSize)
	if err != nil {
		return fmt.Errorf("diffpatch: reading delta for %s: %w", name, err)
	}

	if len(chunk) < VolumeSize {
		return tw.WriteEntryNamed(prefixDiff+name, rec.Attrs, int64(len(chunk)), bytes.NewReader(chunk))
	}

	n := 1
	for {
		entryName := prefixMultivolDiff + name + "/" + strconv.Itoa(n)
		if err := tw.WriteEntryNamed(entryName, rec.Attrs, int64(len(chunk)), bytes.NewReader(chunk)); err != nil {
			return err
		}
		if len(chunk) < VolumeSize {
			return nil
		}
		n++
		chunk, err = readChunk(rec.Content, VolumeSize)
		if err != nil {
			return fmt.Errorf("diffpatch: reading delta chunk %d for %s: %w", n, name, err)
		}
	}
}

// readChunk reads up to size bytes from r, returning fewer only at EOF.
func readChunk(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
