// Package diffpatch implements the diff/patch pipeline (C5): collating two
// ordered path streams, emitting delta records framed per the
// snapshot/diff/deleted/multivol_diff convention, and replaying them back
// onto a tree on restore.
package diffpatch

import (
	"fmt"
	"io"

	"github.com/vaultik/vaultik/internal/pathentry"
)

// Indexed is satisfied by anything collate can order by path index: the
// live tree walker's *pathentry.DiskPath, a decoded *tarstream.Record, or a
// synthetic entry built in-memory for testing.
type Indexed interface {
	IdxOf() pathentry.Index
}

// Iter is a pull-based sequence: Next returns io.EOF once exhausted. Both
// *walk.Walker and *tarstream.Reader satisfy this structurally.
type Iter[T any] interface {
	Next() (T, error)
}

// Collate merges two index-ordered iterators and invokes yield once per
// output index in strictly increasing order, exactly as §4.1.1 describes:
// when both sides carry the same index they're paired; otherwise the
// earlier index is emitted alone and the absent side's argument is T's
// zero value (nil, for the pointer types every caller uses).
func Collate[A Indexed, B Indexed](a Iter[A], b Iter[B], yield func(A, B) error) error {
	var zeroA A
	var zeroB B

	curA, aOk, err := pull(a)
	if err != nil {
		return err
	}
	curB, bOk, err := pull(b)
	if err != nil {
		return err
	}

	for aOk || bOk {
		switch {
		case aOk && bOk:
			switch curA.IdxOf().Compare(curB.IdxOf()) {
			case 0:
				if err := yield(curA, curB); err != nil {
					return err
				}
				if curA, aOk, err = pull(a); err != nil {
					return err
				}
				if curB, bOk, err = pull(b); err != nil {
					return err
				}
			case -1:
				if err := yield(curA, zeroB); err != nil {
					return err
				}
				if curA, aOk, err = pull(a); err != nil {
					return err
				}
			default:
				if err := yield(zeroA, curB); err != nil {
					return err
				}
				if curB, bOk, err = pull(b); err != nil {
					return err
				}
			}
		case aOk:
			if err := yield(curA, zeroB); err != nil {
				return err
			}
			if curA, aOk, err = pull(a); err != nil {
				return err
			}
		case bOk:
			if err := yield(zeroA, curB); err != nil {
				return err
			}
			if curB, bOk, err = pull(b); err != nil {
				return err
			}
		}
	}

	return nil
}

func pull[T any](it Iter[T]) (T, bool, error) {
	v, err := it.Next()
	if err == io.EOF {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("diffpatch: collate: %w", err)
	}
	return v, true, nil
}
