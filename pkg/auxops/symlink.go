package auxops

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrSymlinkTargetEscape is returned by CreateSymlink when the requested
// target does not resolve to a location inside the workspace.
var ErrSymlinkTargetEscape = errors.New("symlink target escapes the workspace")

// CreateSymlink creates a symbolic link at linkPath pointing to
// targetResolved, writing the link with a target expressed relative to
// linkPath's parent directory for portability. Both linkPath and
// targetResolved are expected to already be vetted, absolute paths;
// CreateSymlink additionally re-confirms that targetResolved falls under
// workspaceRoot, since a link whose target escapes the workspace would let
// a later read through the link reach outside it even though the link
// itself is in-workspace.
func CreateSymlink(workspaceRoot, linkPath, targetResolved string) error {
	if !hasPrefixBoundary(targetResolved, workspaceRoot) {
		return ErrSymlinkTargetEscape
	}

	relativeTarget, err := filepath.Rel(filepath.Dir(linkPath), targetResolved)
	if err != nil {
		return errors.Wrap(err, "unable to compute relative symlink target")
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return errors.Wrap(err, "unable to create symlink parent directory")
	}

	if err := os.Symlink(relativeTarget, linkPath); err != nil {
		return errors.Wrap(err, "unable to create symlink")
	}

	return nil
}

// hasPrefixBoundary mirrors security.hasPrefixBoundary without introducing a
// dependency on that package from this one; CreateSymlink is meant to be
// usable against any already-vetted paths regardless of which policy
// produced them.
func hasPrefixBoundary(resolved, root string) bool {
	if resolved == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(resolved, strings.TrimSuffix(root, sep)+sep)
}
