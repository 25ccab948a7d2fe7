package main

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultik/vaultik/internal/collections"
	"github.com/vaultik/vaultik/internal/statuscache"
)

// sizeOnlyBackend is a minimal backend.Backend fake that only needs to
// answer Size lookups, for exercising printCollectionStatus's size column
// without a real archive directory on disk.
type sizeOnlyBackend struct {
	sizes map[string]int64
}

func (b *sizeOnlyBackend) Put(string, string) error { return fmt.Errorf("not implemented") }
func (b *sizeOnlyBackend) Get(string, string) error { return fmt.Errorf("not implemented") }
func (b *sizeOnlyBackend) List() ([]string, error)  { return nil, fmt.Errorf("not implemented") }
func (b *sizeOnlyBackend) Delete([]string) error    { return fmt.Errorf("not implemented") }
func (b *sizeOnlyBackend) Size(name string) (int64, error) {
	n, ok := b.sizes[name]
	if !ok {
		return 0, fmt.Errorf("no such name: %s", name)
	}
	return n, nil
}

func TestPrintCollectionStatusSumsChainSizes(t *testing.T) {
	be := &sizeOnlyBackend{sizes: map[string]int64{
		"full.manifest": 100,
		"full.vol1":     900,
		"sig.archive":   42,
	}}

	snap := &statuscache.Snapshot{
		BackupChains: []*collections.BackupChain{
			{
				StartTime: time.Now(),
				EndTime:   time.Now(),
				Sets: []*collections.BackupSet{
					{
						Full:         true,
						ManifestName: "full.manifest",
						VolumeNames:  map[int]string{1: "full.vol1"},
					},
				},
			},
		},
		SigChains: []*collections.SignatureChain{
			{
				StartTime: time.Now(),
				EndTime:   time.Now(),
				Sets:      []*collections.SigSet{{Full: true, Name: "sig.archive"}},
			},
		},
	}

	var buf bytes.Buffer
	f, err := os.CreateTemp(t.TempDir(), "collection-status")
	require.NoError(t, err)
	defer f.Close()

	printCollectionStatus(f, be, snap)

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "1.0 kB", "the backup chain's manifest+volume sizes must be summed and rendered")
	assert.Contains(t, output, "42 B", "the signature chain's archive size must be reported")
}

func TestPrintCollectionStatusToleratesMissingSizes(t *testing.T) {
	be := &sizeOnlyBackend{sizes: map[string]int64{}}

	snap := &statuscache.Snapshot{
		BackupChains: []*collections.BackupChain{
			{Sets: []*collections.BackupSet{{Full: true, ManifestName: "gone.manifest"}}},
		},
	}

	f, err := os.CreateTemp(t.TempDir(), "collection-status")
	require.NoError(t, err)
	defer f.Close()

	assert.NotPanics(t, func() { printCollectionStatus(f, be, snap) })
}
