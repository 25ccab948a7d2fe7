// Package collections implements the backup-set/chain model (C9): grouping
// an unordered remote filename list into BackupSets and SignatureChains,
// assembling them into chains, matching the active signature/backup pair,
// and selecting the right chain and sets for a point-in-time restore.
package collections

import (
	"fmt"
	"sort"
	"time"

	"github.com/vaultik/vaultik/internal/naming"
)

// BackupSet is every filename belonging to one backup session: a manifest
// plus its numbered volumes.
type BackupSet struct {
	Full      bool
	Time      time.Time // full sets only
	StartTime time.Time // incremental sets only
	EndTime   time.Time

	ManifestName string
	VolumeNames  map[int]string // volume number -> remote filename
}

// Complete reports whether s has a manifest. An incomplete set (volumes
// present, manifest missing — an interrupted upload) is excluded from
// chain assembly.
func (s *BackupSet) Complete() bool { return s.ManifestName != "" }

// SigSet is one signature artifact: a full signature or a new-signatures
// increment, single file, not volume-split at this layer.
type SigSet struct {
	Full      bool
	Time      time.Time
	StartTime time.Time
	EndTime   time.Time
	Name      string
}

// GroupBackupSets groups names into BackupSets keyed by (full/inc, time or
// start/end). Unrecognized filenames are returned separately rather than
// erroring, per §4.5: the collection layer logs and ignores them.
func GroupBackupSets(names []string) (sets []*BackupSet, ignored []string, err error) {
	type key struct {
		full          bool
		t, start, end int64
	}
	groups := map[key]*BackupSet{}
	var order []key

	for _, name := range names {
		n, ok, perr := naming.Parse(name)
		if perr != nil {
			return nil, nil, perr
		}
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		if n.Kind != naming.FullManifest && n.Kind != naming.IncManifest && n.Kind != naming.FullVolume && n.Kind != naming.IncVolume {
			ignored = append(ignored, name)
			continue
		}

		var k key
		if n.Kind.IsIncremental() {
			k = key{full: false, start: n.StartTime.Unix(), end: n.EndTime.Unix()}
		} else {
			k = key{full: true, t: n.Time.Unix()}
		}

		set, exists := groups[k]
		if !exists {
			set = &BackupSet{
				Full: k.full, Time: n.Time, StartTime: n.StartTime, EndTime: n.EndTime,
				VolumeNames: make(map[int]string),
			}
			groups[k] = set
			order = append(order, k)
		}

		switch n.Kind {
		case naming.FullManifest, naming.IncManifest:
			set.ManifestName = name
		case naming.FullVolume, naming.IncVolume:
			if _, dup := set.VolumeNames[n.Volume]; dup {
				return nil, nil, fmt.Errorf("collections: duplicate volume number %d (file %q)", n.Volume, name)
			}
			set.VolumeNames[n.Volume] = name
		}
	}

	for _, k := range order {
		sets = append(sets, groups[k])
	}
	return sets, ignored, nil
}

// GroupSigSets groups names into SigSets, one per filename (signature
// archives are never volume-split at the naming layer).
func GroupSigSets(names []string) (sets []*SigSet, ignored []string, err error) {
	for _, name := range names {
		n, ok, perr := naming.Parse(name)
		if perr != nil {
			return nil, nil, perr
		}
		if !ok || (n.Kind != naming.FullSig && n.Kind != naming.NewSig) {
			ignored = append(ignored, name)
			continue
		}
		sets = append(sets, &SigSet{
			Full: n.Kind == naming.FullSig, Time: n.Time,
			StartTime: n.StartTime, EndTime: n.EndTime, Name: name,
		})
	}
	return sets, ignored, nil
}

// BackupChain is a full set followed by the increments chained onto it.
type BackupChain struct {
	Sets      []*BackupSet
	StartTime time.Time
	EndTime   time.Time
}

// AssembleBackupChains implements §4.7's chain-assembly rule: complete sets
// are sorted by end time, each full set seeds a new chain, and each
// incremental is appended to the unique chain whose current end time
// equals its start time. Increments matching no chain are reported as
// orphaned, and incomplete sets (missing manifest) are dropped entirely.
func AssembleBackupChains(sets []*BackupSet) (chains []*BackupChain, orphaned []*BackupSet) {
	complete := make([]*BackupSet, 0, len(sets))
	for _, s := range sets {
		if s.Complete() {
			complete = append(complete, s)
		}
	}
	sort.Slice(complete, func(i, j int) bool { return complete[i].EndTime.Before(complete[j].EndTime) })

	for _, s := range complete {
		if s.Full {
			chains = append(chains, &BackupChain{Sets: []*BackupSet{s}, StartTime: s.Time, EndTime: s.Time})
			continue
		}

		var matched *BackupChain
		for _, c := range chains {
			if c.EndTime.Equal(s.StartTime) {
				matched = c
				break
			}
		}
		if matched == nil {
			orphaned = append(orphaned, s)
			continue
		}
		matched.Sets = append(matched.Sets, s)
		matched.EndTime = s.EndTime
	}
	return chains, orphaned
}

// SignatureChain mirrors BackupChain for signature artifacts.
type SignatureChain struct {
	Sets      []*SigSet
	StartTime time.Time
	EndTime   time.Time
}

// AssembleSignatureChains is AssembleBackupChains' counterpart for SigSets.
func AssembleSignatureChains(sets []*SigSet) (chains []*SignatureChain, orphaned []*SigSet) {
	ordered := append([]*SigSet(nil), sets...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndTime.Before(ordered[j].EndTime) })

	for _, s := range ordered {
		if s.Full {
			chains = append(chains, &SignatureChain{Sets: []*SigSet{s}, StartTime: s.Time, EndTime: s.Time})
			continue
		}

		var matched *SignatureChain
		for _, c := range chains {
			if c.EndTime.Equal(s.StartTime) {
				matched = c
				break
			}
		}
		if matched == nil {
			orphaned = append(orphaned, s)
			continue
		}
		matched.Sets = append(matched.Sets, s)
		matched.EndTime = s.EndTime
	}
	return chains, orphaned
}

// MatchActivePair selects the most recent signature chain and most recent
// backup chain and reports whether their (start, end) windows agree — the
// pair a future incremental backup builds onto. ok is false if either list
// is empty or the most recent pair's windows disagree; the caller treats
// that as "no active chain, the next backup must be a full".
func MatchActivePair(sigChains []*SignatureChain, backupChains []*BackupChain) (*SignatureChain, *BackupChain, bool) {
	sig := mostRecentSig(sigChains)
	backup := mostRecentBackup(backupChains)
	if sig == nil || backup == nil {
		return nil, nil, false
	}
	if !sig.StartTime.Equal(backup.StartTime) || !sig.EndTime.Equal(backup.EndTime) {
		return nil, nil, false
	}
	return sig, backup, true
}

func mostRecentSig(chains []*SignatureChain) *SignatureChain {
	var best *SignatureChain
	for _, c := range chains {
		if best == nil || c.EndTime.After(best.EndTime) {
			best = c
		}
	}
	return best
}

func mostRecentBackup(chains []*BackupChain) *BackupChain {
	var best *BackupChain
	for _, c := range chains {
		if best == nil || c.EndTime.After(best.EndTime) {
			best = c
		}
	}
	return best
}

// GetBackupChainAtTime implements §4.7's time-selection rule: the chain
// whose window contains t; more than one match is a fatal inconsistency
// (chains are constructed to never overlap); no match falls back to the
// most recent chain ending before t, then to the oldest chain overall.
func GetBackupChainAtTime(chains []*BackupChain, t time.Time) (*BackupChain, error) {
	var within []*BackupChain
	for _, c := range chains {
		if !t.Before(c.StartTime) && !t.After(c.EndTime) {
			within = append(within, c)
		}
	}
	switch len(within) {
	case 1:
		return within[0], nil
	case 0:
		// fall through to the recency fallback below
	default:
		return nil, fmt.Errorf("collections: ambiguous chain selection at %v: %d overlapping chains", t, len(within))
	}

	var mostRecentBefore *BackupChain
	for _, c := range chains {
		if c.EndTime.Before(t) && (mostRecentBefore == nil || c.EndTime.After(mostRecentBefore.EndTime)) {
			mostRecentBefore = c
		}
	}
	if mostRecentBefore != nil {
		return mostRecentBefore, nil
	}

	var oldest *BackupChain
	for _, c := range chains {
		if oldest == nil || c.StartTime.Before(oldest.StartTime) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, fmt.Errorf("collections: no backup chains available")
	}
	return oldest, nil
}

// GetSetsAtTime returns chain's full set plus every increment ending at or
// before t, in chain order — replaying them reconstructs the tree at t.
func GetSetsAtTime(chain *BackupChain, t time.Time) []*BackupSet {
	var out []*BackupSet
	for _, s := range chain.Sets {
		if s.Full || !s.EndTime.After(t) {
			out = append(out, s)
		}
	}
	return out
}
