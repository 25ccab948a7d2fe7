package engine

import (
	"io"
	"sync/atomic"
)

// countingWriter wraps an io.Writer and tracks the cumulative byte count
// written through it, safely readable from a different goroutine than the
// one calling Write — the volume split loop reads Count() while the delta
// archive is produced by a background goroutine.
type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingWriter) Count() int64 { return c.n.Load() }
