// Package tempfile implements the duplicity_temp.<counter> staging
// convention (§5's shared-resource policy): a temp file created next to
// its eventual target, same directory, so the final rename is always
// same-filesystem, named by probing successive counters rather than a
// random suffix so a stale leftover from a crashed session is visible and
// reproducible in a directory listing.
package tempfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxProbe bounds how many candidate counters New tries before giving up.
const MaxProbe = 10000

// New creates and returns a new, exclusively-owned temp file in dir named
// "duplicity_temp.<n>" for the first free n. The caller owns removing it
// on any failure path and renaming or closing it on success.
func New(dir string) (*os.File, error) {
	for n := 0; n < MaxProbe; n++ {
		name := filepath.Join(dir, fmt.Sprintf("duplicity_temp.%d", n))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("tempfile: creating %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("tempfile: no free name in %s after %d attempts", dir, MaxProbe)
}
