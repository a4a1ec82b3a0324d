// Package blacklist compiles a sync group's blacklist/whitelist glob
// sets into a matcher the Scanner and Checker consult before emitting
// anything for a path.
package blacklist

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alist-sync/alist-sync-go/internal/constants"
)

// Matcher evaluates a relative path (relative to a sync group's root,
// never the absolute member URI) against a compiled glob set.
type Matcher struct {
	blacklist []string
	whitelist []string
}

// Compile builds a Matcher from the group's configured blacklist and
// whitelist globs. The implicit ".alist-sync*" entry is always added,
// so the backup/metadata directory can never be scanned or synced even
// if the operator's config omits it.
func Compile(blacklistGlobs, whitelistGlobs []string) *Matcher {
	bl := make([]string, 0, len(blacklistGlobs)+1)
	bl = append(bl, blacklistGlobs...)
	bl = append(bl, constants.ImplicitBlacklistGlob)

	return &Matcher{
		blacklist: bl,
		whitelist: append([]string(nil), whitelistGlobs...),
	}
}

// Blocked reports whether relPath (forward-slash separated, relative to
// the group root) is excluded: on the blacklist, and not rescued by the
// whitelist. Matching is case-sensitive.
func (m *Matcher) Blocked(relPath string) bool {
	relPath = strings.TrimPrefix(relPath, "/")

	if matchesAny(m.whitelist, relPath) {
		return false
	}
	return matchesAny(m.blacklist, relPath)
}

func matchesAny(globs []string, relPath string) bool {
	for _, g := range globs {
		if g == "" {
			continue
		}
		ok, err := doublestar.Match(g, relPath)
		if err == nil && ok {
			return true
		}
		// A bare name like ".alist-sync*" should also match anywhere in
		// the tree, not only at the root — mirror doublestar's "**/"
		// prefix convention for un-rooted patterns. Any path segment
		// matching it blocks the path, so files nested under a matching
		// directory are blocked too.
		if !strings.Contains(g, "/") {
			if ok, err := doublestar.Match("**/"+g, relPath); err == nil && ok {
				return true
			}
			for _, seg := range strings.Split(relPath, "/") {
				if ok, err := doublestar.Match(g, seg); err == nil && ok {
					return true
				}
			}
		}
	}
	return false
}

func basename(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
