package security

import (
	"os"
	"path/filepath"
	"strings"
)

// VettedPath is the result of a successful PathResolver pass: an absolute
// path that has cleared every policy layer for a specific operation kind.
// dirops, batch, and auxops take plain path strings; callers pass them the
// Path field of a VettedPath.
type VettedPath struct {
	// Path is the vetted, absolute filesystem path.
	Path string
	// Kind is the operation kind the path was vetted for.
	Kind OperationKind
}

// containsTraversalSubstring implements the lexical pre-check of PathResolver
// step 1: it operates on the literal input string, before any resolution.
func containsTraversalSubstring(input string) bool {
	return strings.Contains(input, "..") ||
		strings.Contains(input, "./") ||
		strings.Contains(input, `.\`)
}

// Resolve runs the full PathResolver pipeline described in the
// specification's PathResolver contract (§4.A), in the fixed layer order
// documented there. It returns a VettedPath on success or a *Rejection on
// the first layer that fails. Resolve never touches the filesystem to
// mutate it; the only I/O it performs is lstat/readlink for symlink-target
// recursion (layer 10).
func Resolve(inputPath string, kind OperationKind, policy *PolicyConfig) (VettedPath, *Rejection) {
	return resolveDepth(inputPath, kind, policy, 0)
}

func resolveDepth(inputPath string, kind OperationKind, policy *PolicyConfig, depth int) (VettedPath, *Rejection) {
	// Layer 1: lexical traversal screen, applied to the literal input before
	// any resolution takes place.
	if containsTraversalSubstring(inputPath) {
		return VettedPath{}, newRejection(ReasonPathTraversal, inputPath, "", "")
	}

	// Layer 2: resolution. Join with the workspace root if relative, then
	// clean. Symlinks are intentionally not resolved here.
	var resolved string
	if filepath.IsAbs(inputPath) {
		resolved = filepath.Clean(inputPath)
	} else {
		resolved = filepath.Clean(filepath.Join(policy.WorkspaceRoot, inputPath))
	}

	// Layer 3: workspace boundary.
	if !hasPrefixBoundary(resolved, policy.WorkspaceRoot) {
		return VettedPath{}, newRejection(ReasonWorkspaceEscape, inputPath, resolved, "")
	}

	// Layer 4: hardcoded system path screen. Non-overridable.
	for _, sys := range hardcodedSystemPaths {
		if strings.HasPrefix(resolved, sys) {
			return VettedPath{}, newRejection(ReasonSystemPath, inputPath, resolved, sys)
		}
	}

	// Layer 5: hardcoded sensitive pattern screen. Non-overridable.
	for _, pat := range hardcodedSensitivePatterns {
		if pat.matches(resolved) {
			return VettedPath{}, newRejection(ReasonSensitiveFile, inputPath, resolved, pat.fragment)
		}
	}

	// Layer 6: allowed subdirectory screen, only if configured.
	if len(policy.AllowedSubdirs) > 0 {
		allowed := false
		for _, dir := range policy.AllowedSubdirs {
			if hasPrefixBoundary(resolved, dir) {
				allowed = true
				break
			}
		}
		if !allowed {
			return VettedPath{}, newRejection(ReasonSubdirRestriction, inputPath, resolved, "")
		}
	}

	// Layer 7: user blocklist.
	for _, blocked := range policy.BlockedPaths {
		if hasPrefixBoundary(resolved, blocked) {
			return VettedPath{}, newRejection(ReasonBlockedPath, inputPath, resolved, blocked)
		}
	}

	// Layer 8: user pattern.
	for _, pattern := range policy.BlockedPatterns {
		if pattern.Match(resolved) {
			return VettedPath{}, newRejection(ReasonBlockedPattern, inputPath, resolved, pattern.Source)
		}
	}

	// Layer 9: read-only guard.
	if policy.ReadOnly && (kind == OperationWrite || kind == OperationDelete) {
		return VettedPath{}, newRejection(ReasonReadOnly, inputPath, resolved, "")
	}

	// Layer 10: symlink target recursion.
	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if depth >= MaxSymlinkDepth {
			return VettedPath{}, newRejection(ReasonSymlinkEscape, inputPath, resolved, "maximum symlink depth exceeded")
		}

		target, err := os.Readlink(resolved)
		if err != nil {
			return VettedPath{}, newRejection(ReasonSymlinkEscape, inputPath, resolved, err.Error())
		}

		// Resolve the target relative to the link's parent directory unless
		// it is itself absolute.
		var targetInput string
		if filepath.IsAbs(target) {
			targetInput = target
		} else {
			targetInput = filepath.Join(filepath.Dir(resolved), target)
		}

		vetted, rejection := resolveDepth(targetInput, kind, policy, depth+1)
		if rejection != nil {
			return VettedPath{}, newRejection(ReasonSymlinkEscape, inputPath, resolved, target+": "+rejection.Error())
		}
		return vetted, nil
	}

	return VettedPath{Path: resolved, Kind: kind}, nil
}
