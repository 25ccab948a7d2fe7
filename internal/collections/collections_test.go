package collections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/naming"
)

func mustRender(t *testing.T, n naming.Name) string {
	t.Helper()
	s, err := naming.Render(n, naming.DefaultTimeSeparator)
	require.NoError(t, err)
	return s
}

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm.UTC()
}

func TestGroupBackupSetsAssemblesManifestAndVolumes(t *testing.T) {
	full := mustUTC(t, "2024-01-01T00:00:00Z")
	names := []string{
		mustRender(t, naming.Name{Kind: naming.FullManifest, Time: full}),
		mustRender(t, naming.Name{Kind: naming.FullVolume, Time: full, Volume: 1}),
		mustRender(t, naming.Name{Kind: naming.FullVolume, Time: full, Volume: 2}),
	}

	sets, ignored, err := GroupBackupSets(names)
	require.NoError(t, err)
	require.Empty(t, ignored)
	require.Len(t, sets, 1)

	s := sets[0]
	assert.True(t, s.Full)
	assert.True(t, s.Complete())
	assert.Len(t, s.VolumeNames, 2)
}

func TestGroupBackupSetsLeavesIncompleteSetIncomplete(t *testing.T) {
	full := mustUTC(t, "2024-01-01T00:00:00Z")
	names := []string{
		mustRender(t, naming.Name{Kind: naming.FullVolume, Time: full, Volume: 1}),
	}

	sets, ignored, err := GroupBackupSets(names)
	require.NoError(t, err)
	require.Empty(t, ignored)
	require.Len(t, sets, 1)
	assert.False(t, sets[0].Complete())
}

func TestGroupBackupSetsIgnoresUnrecognizedNames(t *testing.T) {
	sets, ignored, err := GroupBackupSets([]string{"not-a-backup-file.txt"})
	require.NoError(t, err)
	assert.Empty(t, sets)
	assert.Equal(t, []string{"not-a-backup-file.txt"}, ignored)
}

func TestGroupBackupSetsRejectsDuplicateVolumeNumber(t *testing.T) {
	full := mustUTC(t, "2024-01-01T00:00:00Z")
	names := []string{
		mustRender(t, naming.Name{Kind: naming.FullVolume, Time: full, Volume: 1}),
		mustRender(t, naming.Name{Kind: naming.FullVolume, Time: full, Volume: 1}),
	}
	_, _, err := GroupBackupSets(names)
	require.Error(t, err)
}

func TestGroupSigSetsSeparatesFullAndIncremental(t *testing.T) {
	full := mustUTC(t, "2024-01-01T00:00:00Z")
	start := mustUTC(t, "2024-01-01T00:00:00Z")
	end := mustUTC(t, "2024-01-02T00:00:00Z")
	names := []string{
		mustRender(t, naming.Name{Kind: naming.FullSig, Time: full}),
		mustRender(t, naming.Name{Kind: naming.NewSig, StartTime: start, EndTime: end}),
	}

	sets, ignored, err := GroupSigSets(names)
	require.NoError(t, err)
	require.Empty(t, ignored)
	require.Len(t, sets, 2)

	var sawFull, sawInc bool
	for _, s := range sets {
		if s.Full {
			sawFull = true
		} else {
			sawInc = true
			assert.True(t, start.Equal(s.StartTime))
			assert.True(t, end.Equal(s.EndTime))
		}
	}
	assert.True(t, sawFull)
	assert.True(t, sawInc)
}

func backupSet(full bool, start, end time.Time, manifest string) *BackupSet {
	return &BackupSet{
		Full: full, Time: start, StartTime: start, EndTime: end,
		ManifestName: manifest,
		VolumeNames:  map[int]string{1: "vol"},
	}
}

func TestAssembleBackupChainsChainsIncrementsOntoFull(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	full := backupSet(true, t0, t0, "full")
	inc1 := backupSet(false, t0, t1, "inc1")
	inc2 := backupSet(false, t1, t2, "inc2")

	chains, orphaned := AssembleBackupChains([]*BackupSet{inc2, full, inc1})
	require.Empty(t, orphaned)
	require.Len(t, chains, 1)
	assert.Len(t, chains[0].Sets, 3)
	assert.True(t, chains[0].StartTime.Equal(t0))
	assert.True(t, chains[0].EndTime.Equal(t2))
}

func TestAssembleBackupChainsReportsOrphanedIncrement(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t5 := mustUTC(t, "2024-01-05T00:00:00Z")
	t6 := mustUTC(t, "2024-01-06T00:00:00Z")

	full := backupSet(true, t0, t0, "full")
	inc1 := backupSet(false, t0, t1, "inc1")
	// Starts at a time no chain currently ends at: orphaned.
	orphan := backupSet(false, t5, t6, "orphan")

	chains, orphaned := AssembleBackupChains([]*BackupSet{full, inc1, orphan})
	require.Len(t, chains, 1)
	require.Len(t, orphaned, 1)
	assert.Equal(t, "orphan", orphaned[0].ManifestName)
}

func TestAssembleBackupChainsDropsIncompleteSets(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	incomplete := &BackupSet{Full: true, Time: t0, StartTime: t0, EndTime: t0, VolumeNames: map[int]string{1: "vol"}}

	chains, orphaned := AssembleBackupChains([]*BackupSet{incomplete})
	assert.Empty(t, chains)
	assert.Empty(t, orphaned)
}

func sigSet(full bool, start, end time.Time, name string) *SigSet {
	return &SigSet{Full: full, Time: start, StartTime: start, EndTime: end, Name: name}
}

func TestAssembleSignatureChainsMirrorsBackupChains(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")

	full := sigSet(true, t0, t0, "fullsig")
	inc := sigSet(false, t0, t1, "incsig")

	chains, orphaned := AssembleSignatureChains([]*SigSet{inc, full})
	require.Empty(t, orphaned)
	require.Len(t, chains, 1)
	assert.Len(t, chains[0].Sets, 2)
}

func TestMatchActivePairAgreesWhenWindowsEqual(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")

	sigChain := &SignatureChain{StartTime: t0, EndTime: t1}
	backupChain := &BackupChain{StartTime: t0, EndTime: t1}

	sig, backup, ok := MatchActivePair([]*SignatureChain{sigChain}, []*BackupChain{backupChain})
	require.True(t, ok)
	assert.Same(t, sigChain, sig)
	assert.Same(t, backupChain, backup)
}

func TestMatchActivePairDisagreesWhenWindowsDiffer(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	sigChain := &SignatureChain{StartTime: t0, EndTime: t1}
	backupChain := &BackupChain{StartTime: t0, EndTime: t2}

	_, _, ok := MatchActivePair([]*SignatureChain{sigChain}, []*BackupChain{backupChain})
	assert.False(t, ok)
}

func TestMatchActivePairFalseWhenEitherListEmpty(t *testing.T) {
	_, _, ok := MatchActivePair(nil, []*BackupChain{{}})
	assert.False(t, ok)
	_, _, ok = MatchActivePair([]*SignatureChain{{}}, nil)
	assert.False(t, ok)
}

func TestMatchActivePairPicksMostRecentOfEach(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	oldSig := &SignatureChain{StartTime: t0, EndTime: t1}
	newSig := &SignatureChain{StartTime: t1, EndTime: t2}
	oldBackup := &BackupChain{StartTime: t0, EndTime: t1}
	newBackup := &BackupChain{StartTime: t1, EndTime: t2}

	sig, backup, ok := MatchActivePair([]*SignatureChain{oldSig, newSig}, []*BackupChain{oldBackup, newBackup})
	require.True(t, ok)
	assert.Same(t, newSig, sig)
	assert.Same(t, newBackup, backup)
}

func TestGetBackupChainAtTimeExactWindowMatch(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")
	t3 := mustUTC(t, "2024-01-04T00:00:00Z")

	first := &BackupChain{StartTime: t0, EndTime: t1}
	second := &BackupChain{StartTime: t2, EndTime: t3}

	mid := mustUTC(t, "2024-01-01T12:00:00Z")
	got, err := GetBackupChainAtTime([]*BackupChain{first, second}, mid)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestGetBackupChainAtTimeFallsBackToMostRecentBefore(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")
	t3 := mustUTC(t, "2024-01-04T00:00:00Z")

	first := &BackupChain{StartTime: t0, EndTime: t1}
	second := &BackupChain{StartTime: t2, EndTime: t3}

	// A gap between t1 and t2, querying inside the gap.
	afterFirst := mustUTC(t, "2024-01-02T12:00:00Z")
	got, err := GetBackupChainAtTime([]*BackupChain{first, second}, afterFirst)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestGetBackupChainAtTimeFallsBackToOldestWhenQueryIsBeforeAll(t *testing.T) {
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")
	t3 := mustUTC(t, "2024-01-04T00:00:00Z")
	t4 := mustUTC(t, "2024-01-05T00:00:00Z")

	older := &BackupChain{StartTime: t1, EndTime: t2}
	newer := &BackupChain{StartTime: t3, EndTime: t4}

	before := mustUTC(t, "2023-01-01T00:00:00Z")
	got, err := GetBackupChainAtTime([]*BackupChain{newer, older}, before)
	require.NoError(t, err)
	assert.Same(t, older, got, "a query before every chain must fall back to the oldest chain overall")
}

func TestGetBackupChainAtTimeErrorsOnOverlap(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	a := &BackupChain{StartTime: t0, EndTime: t2}
	b := &BackupChain{StartTime: t0, EndTime: t2}

	mid := mustUTC(t, "2024-01-02T00:00:00Z")
	_, err := GetBackupChainAtTime([]*BackupChain{a, b}, mid)
	require.Error(t, err)
}

func TestGetBackupChainAtTimeErrorsWhenNoChainsExist(t *testing.T) {
	_, err := GetBackupChainAtTime(nil, time.Now())
	require.Error(t, err)
}

func TestGetSetsAtTimeReturnsFullAndIncrementsUpToTime(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	full := backupSet(true, t0, t0, "full")
	inc1 := backupSet(false, t0, t1, "inc1")
	inc2 := backupSet(false, t1, t2, "inc2")

	chain := &BackupChain{Sets: []*BackupSet{full, inc1, inc2}, StartTime: t0, EndTime: t2}

	got := GetSetsAtTime(chain, t1)
	require.Len(t, got, 2)
	assert.Equal(t, "full", got[0].ManifestName)
	assert.Equal(t, "inc1", got[1].ManifestName)
}

func TestGetSetsAtTimeExcludesIncrementsEndingAfterTarget(t *testing.T) {
	t0 := mustUTC(t, "2024-01-01T00:00:00Z")
	t1 := mustUTC(t, "2024-01-02T00:00:00Z")
	t2 := mustUTC(t, "2024-01-03T00:00:00Z")

	full := backupSet(true, t0, t0, "full")
	inc1 := backupSet(false, t0, t1, "inc1")

	chain := &BackupChain{Sets: []*BackupSet{full, inc1}, StartTime: t0, EndTime: t1}

	beforeInc1Ends := mustUTC(t, "2024-01-01T12:00:00Z")
	got := GetSetsAtTime(chain, beforeInc1Ends)
	require.Len(t, got, 1)
	assert.Equal(t, "full", got[0].ManifestName)
	_ = t2
}
