package diffpatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/pathentry"
)

func TestPatchCreatesFilesAndDirectoriesFromSnapshot(t *testing.T) {
	target := t.TempDir()

	records := []*DeltaRecord{
		{
			Index: idx("sub"),
			Type:  DiffSnapshot,
			Attrs: &pathentry.Entry{Kind: pathentry.KindDirectory, Mode: 0o755},
		},
		{
			Index:   idx("sub", "file.txt"),
			Type:    DiffSnapshot,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644, Size: 5},
			Content: nopContent("hello"),
		},
	}

	p := NewPatcher(nil)
	require.NoError(t, p.Patch(target, &recordIter{items: records}))

	content, err := os.ReadFile(filepath.Join(target, "sub", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	fi, err := os.Stat(filepath.Join(target, "sub"))
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestPatchDeletesFile(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "gone.txt"), []byte("x"), 0o644))

	records := []*DeltaRecord{
		{Index: idx("gone.txt"), Type: DiffDeleted},
	}

	p := NewPatcher(nil)
	require.NoError(t, p.Patch(target, &recordIter{items: records}))

	_, err := os.Stat(filepath.Join(target, "gone.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestPatchNoRecordsLeavesTreeUnchanged(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.txt"), []byte("unchanged"), 0o644))

	p := NewPatcher(nil)
	require.NoError(t, p.Patch(target, &recordIter{}))

	content, err := os.ReadFile(filepath.Join(target, "keep.txt"))
	require.NoError(t, err)
	require.Equal(t, "unchanged", string(content))
}

func TestPatchDiffWithoutRegularBasisWarns(t *testing.T) {
	target := t.TempDir()

	records := []*DeltaRecord{
		{
			Index:   idx("missing.bin"),
			Type:    DiffDiff,
			Attrs:   &pathentry.Entry{Kind: pathentry.KindRegular, Mode: 0o644},
			Content: nopContent("delta bytes"),
		},
	}

	var warnings []error
	p := NewPatcher(func(_ pathentry.Index, err error) { warnings = append(warnings, err) })
	require.NoError(t, p.Patch(target, &recordIter{items: records}))
	require.Len(t, warnings, 1, "a diff record with no regular basis on disk must be reported, not silently applied as a snapshot")
}

func TestPatchReplacesWrongTypeOnSnapshot(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "was-dir"), []byte("x"), 0o644))

	records := []*DeltaRecord{
		{
			Index: idx("was-dir"),
			Type:  DiffSnapshot,
			Attrs: &pathentry.Entry{Kind: pathentry.KindDirectory, Mode: 0o755},
		},
	}

	p := NewPatcher(nil)
	require.NoError(t, p.Patch(target, &recordIter{items: records}))

	fi, err := os.Stat(filepath.Join(target, "was-dir"))
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}
