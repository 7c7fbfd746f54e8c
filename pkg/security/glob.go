package security

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RelativeGlob is a compiled, validated glob pattern used for directory-copy
// exclusions and watch-session filters: segment-aware matching (via
// github.com/bmatcuk/doublestar, the same library the teacher uses for its
// own ignore-pattern matching in pkg/synchronization/core/ignore/mutagen)
// against a path relative to some root, with a fallback match against the
// path's last component when the pattern contains no slash -- mirroring the
// "matchLeaf" behavior of the teacher's ignorePattern.
type RelativeGlob struct {
	pattern   string
	matchLeaf bool
}

// CompileGlob validates and compiles a glob pattern for relative-path
// matching. It is the segment-aware half of the canonical glob grammar
// documented in SPEC_FULL.md §9; CompileBlockedPattern (policy.go)
// implements the path-anchored-regex half used for blocked_patterns.
func CompileGlob(pattern string) (*RelativeGlob, error) {
	pattern = strings.TrimPrefix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	if _, err := doublestar.Match(pattern, "a"); err != nil {
		return nil, err
	}

	return &RelativeGlob{
		pattern:   pattern,
		matchLeaf: !strings.Contains(pattern, "/"),
	}, nil
}

// Match reports whether relativePath (using forward slashes, relative to
// whatever root the caller is matching under) matches the glob.
func (g *RelativeGlob) Match(relativePath string) bool {
	if match, _ := doublestar.Match(g.pattern, relativePath); match {
		return true
	}
	if g.matchLeaf && relativePath != "" {
		if match, _ := doublestar.Match(g.pattern, path.Base(relativePath)); match {
			return true
		}
	}
	return false
}

// MatchAny reports whether relativePath matches any of the supplied globs.
// An empty glob list matches nothing -- callers use this to mean "no
// filtering" and should check len(globs) == 0 separately where an empty
// filter set should instead match everything (as for watch-session filters,
// where an empty filter list means "buffer every event").
func MatchAny(globs []*RelativeGlob, relativePath string) bool {
	for _, g := range globs {
		if g.Match(relativePath) {
			return true
		}
	}
	return false
}
