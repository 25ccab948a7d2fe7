// Package walk implements the ordered, lazy directory traversal (C2) that
// feeds the diff pipeline: a selection/walk pass over a real directory tree
// that yields pathentry.DiskPath entries in strictly increasing index order.
package walk

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vaultik/vaultik/internal/pathentry"
	"github.com/vaultik/vaultik/internal/robust"
)

// Selector decides whether an index should be included in the walk. Returning
// false for a directory prunes its entire subtree. This is the selection
// half of C2 — include/exclude glob evaluation lives in internal/selector
// (selector.Globs satisfies this interface).
type Selector interface {
	Include(index pathentry.Index, isDir bool) (bool, string)
}

// AllowAll is a Selector that includes everything.
type AllowAll struct{}

// Include always returns true.
func (AllowAll) Include(pathentry.Index, bool) (bool, string) { return true, "" }

// frame tracks one directory's remaining, sorted, not-yet-visited children.
type frame struct {
	index    pathentry.Index
	children []os.DirEntry
	pos      int
}

// Walker performs a depth-first, lexicographically-ordered traversal of a
// directory tree rooted at Root, honoring Selector, and reporting skipped
// entries to OnSkip instead of aborting (§4.1.2: per-file errors are
// caught and skip that record with a warning).
type Walker struct {
	root     string
	selector Selector
	onSkip   func(index pathentry.Index, err error)

	started bool
	done    bool
	stack   []*frame
}

// New returns a Walker over root. onSkip may be nil.
func New(root string, selector Selector, onSkip func(pathentry.Index, error)) *Walker {
	if selector == nil {
		selector = AllowAll{}
	}
	if onSkip == nil {
		onSkip = func(pathentry.Index, error) {}
	}
	return &Walker{root: root, selector: selector, onSkip: onSkip}
}

// Next returns the next entry in index order, or io.EOF when the walk is
// exhausted. Errors reading an individual directory are reported via onSkip
// and treated as "no children", not a fatal failure of the whole walk.
func (w *Walker) Next() (*pathentry.DiskPath, error) {
	if w.done {
		return nil, io.EOF
	}

	if !w.started {
		w.started = true
		return w.visit(pathentry.Root())
	}

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		if top.pos >= len(top.children) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}

		child := top.children[top.pos]
		top.pos++

		childIndex := top.index.Child(child.Name())
		if ok, reason := w.selector.Include(childIndex, child.IsDir()); !ok {
			w.onSkip(childIndex, fmt.Errorf("excluded: %s", reason))
			continue
		}

		return w.visit(childIndex)
	}

	w.done = true
	return nil, io.EOF
}

// visit stats index, pushes a frame to descend into it if it's a directory,
// and returns the resulting entry. A benign per-entry error reports to
// onSkip and the walk continues past it (§4.1.2); a fatal one is classified
// by robust.Handle and aborts the walk instead of silently producing a
// truncated tree.
func (w *Walker) visit(index pathentry.Index) (*pathentry.DiskPath, error) {
	dp, err := pathentry.NewDiskPath(w.root, index)
	if err != nil {
		if herr := robust.Handle(index, err, w.onSkip); herr != nil {
			return nil, herr
		}
		return w.Next()
	}

	if dp.IsDir() {
		children, err := readDirRetryingEINTR(dp.Name)
		if err != nil {
			if herr := robust.Handle(index, fmt.Errorf("reading directory: %w", err), w.onSkip); herr != nil {
				return nil, herr
			}
			children = nil
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
		w.stack = append(w.stack, &frame{index: index, children: children})
	}

	return dp, nil
}

// readDirRetryingEINTR reads dir, reissuing the syscall immediately (no
// backoff) up to robust.DefaultEINTRAttempts times if it's interrupted.
func readDirRetryingEINTR(dir string) ([]os.DirEntry, error) {
	var entries []os.DirEntry
	err := robust.RetryEINTR(context.Background(), func() error {
		var readErr error
		entries, readErr = os.ReadDir(dir)
		return readErr
	})
	return entries, err
}
