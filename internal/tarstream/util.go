package tarstream

import (
	"archive/tar"
	"os"
	"time"
)

func timeFromNanos(ns int64) time.Time {
	return time.Unix(0, ns)
}

// pathentryFileMode reconstructs a bare permission-bits os.FileMode from a
// tar header, discarding the type bits tarstream tracks separately via Kind.
func pathentryFileMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode) & os.ModePerm
}
