package engine

import (
	"io"

	"github.com/vaultik/vaultik/internal/diffpatch"
)

// deltaChanIter bridges diffpatch.Diff's push-style yield callback to
// diffpatch.WriteDeltaArchive's pull-style Iter interface, so the two can
// run concurrently: Diff walks the source tree and opens file handles as
// it goes, while WriteDeltaArchive frames and closes each record in turn.
// Running them in lockstep on one goroutine would work too, but splitting
// them lets the archive writer keep draining while Diff is blocked on the
// next directory read.
//
// Next's channel receive happens-after the corresponding channel send in
// the producer goroutine (Go's channel send/receive and close guarantees),
// so a record handed across this bridge is always fully constructed and
// safe to read from the consumer side without further synchronization.
type deltaChanIter struct {
	records <-chan *diffpatch.DeltaRecord
	errs    <-chan error
}

func (d *deltaChanIter) Next() (*diffpatch.DeltaRecord, error) {
	rec, ok := <-d.records
	if ok {
		return rec, nil
	}
	if err, ok := <-d.errs; ok && err != nil {
		return nil, err
	}
	return nil, io.EOF
}
