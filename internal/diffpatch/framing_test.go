package diffpatch

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/pathentry"
)

type recordIter struct {
	items []*DeltaRecord
	pos   int
}

func (r *recordIter) Next() (*DeltaRecord, error) {
	if r.pos >= len(r.items) {
		return nil, io.EOF
	}
	v := r.items[r.pos]
	r.pos++
	return v, nil
}

func nopContent(s string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(s)))
}

func TestDeltaArchiveRoundTripBasicKinds(t *testing.T) {
	records := []*DeltaRecord{
		{Index: idx("deleted.txt"), Type: DiffDeleted},
		{
			Index:   idx("file.txt"),
			Type:    DiffSnapshot,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644, Size: 5},
			Content: nopContent("hello"),
		},
		{
			Index: idx("dir"),
			Type:  DiffSnapshot,
			Attrs: &pathentry.Entry{Kind: pathentry.KindDirectory, Mode: 0o755},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDeltaArchive(&buf, &recordIter{items: records}))

	reader := NewDeltaArchiveReader(&buf)

	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, DiffDeleted, rec.Type)
	require.Equal(t, idx("deleted.txt"), rec.Index)

	rec, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, DiffSnapshot, rec.Type)
	require.Equal(t, idx("file.txt"), rec.Index)
	content, err := io.ReadAll(rec.Content)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	rec, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, DiffSnapshot, rec.Type)
	require.Equal(t, pathentry.KindDirectory, rec.Attrs.Kind)
	require.Nil(t, rec.Content)

	_, err = reader.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDeltaArchiveMultivolDiffSplitsAndReassembles(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), VolumeSize+100)

	records := []*DeltaRecord{
		{
			Index:   idx("big.bin"),
			Type:    DiffDiff,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644},
			Content: io.NopCloser(bytes.NewReader(payload)),
		},
		{
			Index:   idx("small.bin"),
			Type:    DiffDiff,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644},
			Content: nopContent("tiny delta"),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDeltaArchive(&buf, &recordIter{items: records}))

	reader := NewDeltaArchiveReader(&buf)

	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, idx("big.bin"), rec.Index)
	got, err := io.ReadAll(rec.Content)
	require.NoError(t, err)
	require.Equal(t, payload, got, "multivol reassembly must reproduce the original bytes exactly")
	require.NoError(t, rec.Content.Close())

	rec, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, idx("small.bin"), rec.Index)
	got, err = io.ReadAll(rec.Content)
	require.NoError(t, err)
	require.Equal(t, "tiny delta", string(got), "reading past a multivol run must resume from the correctly held-back next entry")

	_, err = reader.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDeltaArchiveMultivolCloseBeforeExhaustionDrainsAndResumes(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), VolumeSize*2+5)

	records := []*DeltaRecord{
		{
			Index:   idx("big.bin"),
			Type:    DiffDiff,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644},
			Content: io.NopCloser(bytes.NewReader(payload)),
		},
		{
			Index:   idx("next.txt"),
			Type:    DiffSnapshot,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644, Size: 4},
			Content: nopContent("next"),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDeltaArchive(&buf, &recordIter{items: records}))

	reader := NewDeltaArchiveReader(&buf)

	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, idx("big.bin"), rec.Index)

	// Close before reading any of the multivol payload — the abort path.
	require.NoError(t, rec.Content.Close())

	rec, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, idx("next.txt"), rec.Index, "closing a multivol reader early must resume the outer stream from the next real entry, not a stale chunk")
	got, err := io.ReadAll(rec.Content)
	require.NoError(t, err)
	require.Equal(t, "next", string(got))
}
