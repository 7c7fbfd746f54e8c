// Package security implements the path-validation and policy-enforcement
// kernel for sandboxfs: the layered pipeline that resolves an untrusted path
// argument into a vetted, workspace-confined absolute path, the sliding-window
// rate limiter, and the PolicyEngine façade that every effectful component
// goes through before touching the filesystem.
package security

import (
	"path/filepath"
	"regexp"
	"strings"
)

// OperationKind classifies the nature of an operation being vetted, since
// certain policy layers (read-only guard) depend on it.
type OperationKind int

const (
	// OperationRead indicates a read-only filesystem access.
	OperationRead OperationKind = iota
	// OperationWrite indicates an operation that creates or modifies content.
	OperationWrite
	// OperationDelete indicates an operation that removes content.
	OperationDelete
)

// String returns a human-readable name for the operation kind.
func (k OperationKind) String() string {
	switch k {
	case OperationRead:
		return "read"
	case OperationWrite:
		return "write"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MaxSymlinkDepth bounds PathResolver's symlink-target recursion so that a
// cycle or a deliberately pathological chain cannot recurse unboundedly.
const MaxSymlinkDepth = 40

// hardcodedSystemPaths is the built-in, non-overridable list of absolute
// path prefixes that are always rejected, regardless of user configuration.
var hardcodedSystemPaths = []string{
	"/etc",
	"/sys",
	"/proc",
	"/dev",
	"/boot",
	"/root",
	"/bin",
	"/sbin",
	"/usr/bin",
	"/usr/sbin",
	"/System",
	"/Library",
	"/Applications",
	`C:\Windows`,
	`C:\Program Files`,
	`C:\Program Files (x86)`,
}

// sensitivePattern pairs a literal path fragment with whether it must be
// matched case-insensitively.
type sensitivePattern struct {
	fragment        string
	caseInsensitive bool
}

// hardcodedSensitivePatterns is the built-in, non-overridable list of path
// fragments whose presence anywhere in a resolved path causes rejection. The
// credential/key-related fragments are case-sensitive; the three generic
// words match regardless of case per the specification.
var hardcodedSensitivePatterns = []sensitivePattern{
	{fragment: ".ssh/"},
	{fragment: ".aws/"},
	{fragment: ".kube/"},
	{fragment: "id_rsa"},
	{fragment: ".pem"},
	{fragment: ".key"},
	{fragment: ".p12"},
	{fragment: ".pfx"},
	{fragment: "password", caseInsensitive: true},
	{fragment: "secret", caseInsensitive: true},
	{fragment: "token", caseInsensitive: true},
	{fragment: ".env"},
}

// matches reports whether the sensitive pattern is present in the resolved
// path.
func (p sensitivePattern) matches(resolved string) bool {
	if p.caseInsensitive {
		return strings.Contains(strings.ToLower(resolved), strings.ToLower(p.fragment))
	}
	return strings.Contains(resolved, p.fragment)
}

// CompiledPattern is a user-supplied glob pattern compiled to a regular
// expression anchored against the whole resolved path, using the canonical
// grammar documented in SPEC_FULL.md: `*` becomes `.*` and `?` becomes `.`,
// with every other regex metacharacter escaped literally.
type CompiledPattern struct {
	// Source is the original glob pattern, kept for diagnostics.
	Source string
	re     *regexp.Regexp
}

// Match reports whether the resolved path matches the compiled pattern.
func (p *CompiledPattern) Match(resolved string) bool {
	return p.re.MatchString(resolved)
}

// CompileBlockedPattern compiles a single user-supplied glob pattern using
// the canonical blocked_patterns grammar: `*` -> `.*`, `?` -> `.`, anchored
// to the full resolved path. This is the "path-anchored" half of the glob
// grammar documented in SPEC_FULL.md §9; CompileGlob (glob.go) implements
// the segment-aware half used for directory-copy exclusions and watch
// filters.
func CompileBlockedPattern(pattern string) (*CompiledPattern, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &CompiledPattern{Source: pattern, re: re}, nil
}

// PolicyConfig is the immutable, fully-resolved configuration consulted by
// every PathResolver invocation. It is constructed once (typically by
// service.BuildPolicyConfig from a JSON configuration document) and never
// mutated thereafter; the mutable pieces of policy (emergency flags) live on
// Engine instead, so that PolicyConfig itself can be shared freely across
// goroutines without synchronization.
type PolicyConfig struct {
	// WorkspaceRoot is the absolute, canonical directory under which every
	// vetted path must fall.
	WorkspaceRoot string
	// AllowedSubdirs, if non-empty, further restricts vetted paths to lie
	// under at least one of these absolute, workspace-relative directories.
	AllowedSubdirs []string
	// BlockedPaths is a set of absolute path prefixes that are always
	// rejected for this configuration (in addition to the hardcoded list).
	BlockedPaths []string
	// BlockedPatterns is an ordered list of user-supplied glob patterns,
	// pre-compiled to regular expressions via CompileBlockedPattern.
	BlockedPatterns []*CompiledPattern
	// MaxFileSize is the maximum size, in bytes, permitted for a single file
	// operation.
	MaxFileSize int64
	// MaxBatchSize is the maximum cumulative size, in bytes, permitted for a
	// single batch operation.
	MaxBatchSize int64
	// MaxOpsPerMinute is the sliding-window rate limit applied per agent.
	MaxOpsPerMinute int
	// ReadOnly forces rejection of every write/delete operation.
	ReadOnly bool
	// AuditEnabled controls whether audit lines are emitted.
	AuditEnabled bool
}

// hasPrefixBoundary reports whether resolved equals root or has root followed
// by a path separator as a prefix -- the workspace-boundary and
// blocked-path/subdir-containment test used throughout the resolver.
func hasPrefixBoundary(resolved, root string) bool {
	if resolved == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(resolved, strings.TrimSuffix(root, sep)+sep)
}
