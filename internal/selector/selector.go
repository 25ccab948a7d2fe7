// Package selector adapts the config file's include/exclude glob patterns
// (C2's selection half) into a walk.Selector. Patterns are plain shell
// globs evaluated per path component with the standard library's
// path/filepath.Match — the pack carries no third-party glob-matching
// library, and a single directory-tree selection predicate is squarely
// within what filepath.Match already does well.
package selector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vaultik/vaultik/internal/pathentry"
)

// Globs selects walk entries by shell-glob include/exclude pattern lists,
// both evaluated against the entry's "/"-joined index path. Exclude takes
// priority over Include. An empty Includes list means "everything not
// excluded."
type Globs struct {
	Includes []string
	Excludes []string
}

// Include implements walk.Selector.
func (g Globs) Include(index pathentry.Index, isDir bool) (bool, string) {
	p := index.Path()

	for _, pat := range g.Excludes {
		if match(pat, p) {
			return false, fmt.Sprintf("matched exclude pattern %q", pat)
		}
	}

	if len(g.Includes) == 0 {
		return true, ""
	}

	for _, pat := range g.Includes {
		if match(pat, p) {
			return true, ""
		}
	}

	// A directory that doesn't itself match an include pattern may still
	// hold a descendant that does; allow descent so the walk can reach it,
	// and let the leaf-level check above do the real filtering.
	if isDir {
		for _, pat := range g.Includes {
			if isPrefixOfPattern(p, pat) {
				return true, ""
			}
		}
	}

	return false, "matched no include pattern"
}

// match reports whether path satisfies pattern as a whole-path glob: every
// "/"-delimited component of pattern must filepath.Match the corresponding
// component of path, and both must have the same number of components.
func match(pattern, path string) bool {
	pp := strings.Split(pattern, "/")
	cp := strings.Split(path, "/")
	if len(pp) != len(cp) {
		return false
	}
	for i := range pp {
		ok, err := filepath.Match(pp[i], cp[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// isPrefixOfPattern reports whether path's components are each a
// filepath.Match of pattern's corresponding (and strictly shallower)
// components, meaning path names a directory that could contain something
// pattern matches.
func isPrefixOfPattern(path, pattern string) bool {
	pp := strings.Split(pattern, "/")
	cp := strings.Split(path, "/")
	if len(pp) <= len(cp) {
		return false
	}
	for i := range cp {
		ok, err := filepath.Match(pp[i], cp[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
