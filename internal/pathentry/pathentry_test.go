package pathentry

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexOrdering(t *testing.T) {
	cases := []struct {
		a, b Index
		want int
	}{
		{Root(), Root(), 0},
		{Index{"a"}, Index{"b"}, -1},
		{Index{"b"}, Index{"a"}, 1},
		{Index{"a"}, Index{"a", "b"}, -1},
		{Index{"a", "z"}, Index{"a"}, 1},
		{Index{"m", "z"}, Index{"m", "z"}, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.a.Compare(c.b))
		assert.Equal(t, c.want < 0, c.a.Less(c.b))
		assert.Equal(t, c.want == 0, c.a.Equal(c.b))
	}
}

func TestIndexHasPrefix(t *testing.T) {
	idx := Index{"a", "b", "c"}
	assert.True(t, idx.HasPrefix(Index{"a"}))
	assert.True(t, idx.HasPrefix(Index{"a", "b"}))
	assert.True(t, idx.HasPrefix(Root()))
	assert.False(t, idx.HasPrefix(Index{"a", "x"}))
	assert.False(t, idx.HasPrefix(Index{"a", "b", "c", "d"}))
}

func TestIndexChildAndParent(t *testing.T) {
	root := Root()
	child := root.Child("a")
	assert.Equal(t, Index{"a"}, child)

	grandchild := child.Child("b")
	assert.Equal(t, Index{"a", "b"}, grandchild)
	assert.Equal(t, Index{"a"}, grandchild.Parent())
	assert.True(t, root.Parent().IsRoot())
}

func TestIndexPathRoundTrip(t *testing.T) {
	assert.Equal(t, ".", Root().Path())
	assert.Equal(t, "a/b/c", Index{"a", "b", "c"}.Path())

	assert.True(t, ParseIndexPath(".").IsRoot())
	assert.True(t, ParseIndexPath("").IsRoot())
	assert.Equal(t, Index{"a", "b"}, ParseIndexPath("a/b"))
	assert.Equal(t, Index{"a", "b"}, ParseIndexPath("a/b/"))
}

func TestEntryEqualRegularIgnoresSizeAndContent(t *testing.T) {
	a := &Entry{Kind: KindRegular, Mode: 0o644, UID: 1, GID: 1, MtimeNanos: 1_000_000_000, Size: 10}
	b := &Entry{Kind: KindRegular, Mode: 0o644, UID: 1, GID: 1, MtimeNanos: 1_000_000_999, Size: 999999}

	assert.True(t, a.Equal(b), "regular entries with the same whole-second mtime and perms must compare equal regardless of size")
}

func TestEntryEqualRegularMtimeSecondGranularity(t *testing.T) {
	a := &Entry{Kind: KindRegular, Mode: 0o644, MtimeNanos: 1_000_000_000}
	b := &Entry{Kind: KindRegular, Mode: 0o644, MtimeNanos: 2_000_000_000}
	assert.False(t, a.Equal(b))
}

func TestEntryEqualSymlinkComparesTargetOnly(t *testing.T) {
	a := &Entry{Kind: KindSymlink, SymlinkTarget: "../x", Mode: 0o777, MtimeNanos: 1}
	b := &Entry{Kind: KindSymlink, SymlinkTarget: "../x", Mode: 0o644, MtimeNanos: 2}
	assert.True(t, a.Equal(b))

	c := &Entry{Kind: KindSymlink, SymlinkTarget: "../y"}
	assert.False(t, a.Equal(c))
}

func TestEntryEqualKindMismatch(t *testing.T) {
	a := &Entry{Kind: KindRegular}
	b := &Entry{Kind: KindDirectory}
	assert.False(t, a.Equal(b))
}

func TestEntryEqualNilHandling(t *testing.T) {
	var a, b *Entry
	assert.True(t, a.Equal(b))

	a = &Entry{Kind: KindRegular}
	assert.False(t, a.Equal(nil))
}

func TestEntryEqualDeviceComparesMajorMinor(t *testing.T) {
	a := &Entry{Kind: KindBlockDevice, Mode: 0o660, Dev: DevNums{Major: 8, Minor: 0}}
	b := &Entry{Kind: KindBlockDevice, Mode: 0o660, Dev: DevNums{Major: 8, Minor: 1}}
	assert.False(t, a.Equal(b))

	c := a.Clone()
	assert.True(t, a.Equal(c))
}

func TestEntryCloneIsIndependent(t *testing.T) {
	a := &Entry{Index: Index{"a", "b"}, Kind: KindRegular}
	c := a.Clone()
	c.Index[0] = "z"
	assert.Equal(t, "a", a.Index[0], "mutating the clone's index must not affect the original")
}

func TestKindFromFileModeUnknown(t *testing.T) {
	_, err := KindFromFileMode(os.ModeIrregular)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestKindFromFileModeRegular(t *testing.T) {
	kind, err := KindFromFileMode(0)
	require.NoError(t, err)
	assert.Equal(t, KindRegular, kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "regular", KindRegular.String())
	assert.Equal(t, "absent", KindAbsent.String())
	assert.Equal(t, "directory", KindDirectory.String())
}
