package service

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxfs/sandboxfs/pkg/auxops"
	"github.com/sandboxfs/sandboxfs/pkg/batch"
	"github.com/sandboxfs/sandboxfs/pkg/dirops"
	"github.com/sandboxfs/sandboxfs/pkg/logging"
	"github.com/sandboxfs/sandboxfs/pkg/security"
	"github.com/sandboxfs/sandboxfs/pkg/watch"
)

// Service is the façade every transport-layer request dispatches through.
// It owns the policy engine, batch executor, and watch registry for the
// lifetime of the process, and exposes one method per public operation
// documented in the specification's external-interfaces table.
type Service struct {
	engine   *security.Engine
	executor *batch.Executor
	watches  *watch.Registry
	index    SearchIndex
	log      *logging.Logger
}

// New constructs a Service bound to policy, with audit records routed
// through audit (which may be nil to disable audit recording regardless of
// policy.AuditEnabled). index may be nil, in which case a fresh in-memory
// reference SearchIndex is used.
func New(policy *security.PolicyConfig, audit security.AuditSink, log *logging.Logger, index SearchIndex) *Service {
	limiter := security.NewRateLimiter(policy.MaxOpsPerMinute, 0)
	engine := security.NewEngine(policy, limiter, audit, log)

	if index == nil {
		index = NewMemoryIndex()
	}

	return &Service{
		engine:   engine,
		executor: batch.NewExecutor(engine, log),
		watches:  watch.NewRegistry(),
		index:    index,
		log:      log,
	}
}

// Engine exposes the underlying PolicyEngine, primarily so an
// administrative entry point can toggle the emergency flags.
func (s *Service) Engine() *security.Engine { return s.engine }

// BatchOperations executes a sequence of copy/move/delete operations,
// vetting each path through the policy engine. In atomic mode every path is
// vetted before any operation touches disk; in non-atomic mode each
// operation's paths are vetted as that operation runs.
func (s *Service) BatchOperations(agentID string, ops []batch.Op, atomic bool) ([]batch.Result, error) {
	return s.executor.Execute(agentID, ops, atomic)
}

// WatchDirectory starts a new watch session, returning the freshly
// generated session id by which callers retrieve and eventually stop it.
func (s *Service) WatchDirectory(agentID, path string, recursive bool, filters []string) (string, error) {
	vetted, err := s.engine.Vet(agentID, path, security.OperationRead)
	if err != nil {
		return "", err
	}

	compiled, err := compileGlobs(filters)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	if err := s.watches.Watch(sessionID, vetted.Path, recursive, compiled); err != nil {
		return "", err
	}
	s.engine.Note("watch_directory", []string{vetted.Path}, "started")
	return sessionID, nil
}

// GetWatchEvents returns a session's buffered events, optionally clearing
// the buffer afterward.
func (s *Service) GetWatchEvents(sessionID string, clear bool) ([]watch.FsEvent, error) {
	events, err := s.watches.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	if clear {
		if err := s.watches.ClearEvents(sessionID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// StopWatch releases a watch session.
func (s *Service) StopWatch(sessionID string) error {
	return s.watches.Stop(sessionID)
}

// StopAllWatches releases every live watch session, intended for use during
// service shutdown.
func (s *Service) StopAllWatches() {
	s.watches.StopAll()
}

// SearchFiles searches the index built for root, delegating to the
// injected SearchIndex collaborator.
func (s *Service) SearchFiles(agentID, root, query string) ([]SearchMatch, error) {
	vetted, err := s.engine.Vet(agentID, root, security.OperationRead)
	if err != nil {
		return nil, err
	}
	matches, err := s.index.Search(vetted.Path, query)
	if err != nil {
		return nil, err
	}
	s.engine.Note("search_files", []string{vetted.Path}, "completed")
	return matches, nil
}

// BuildIndex (re)builds the search index for root.
func (s *Service) BuildIndex(agentID, root string) (int, error) {
	vetted, err := s.engine.Vet(agentID, root, security.OperationRead)
	if err != nil {
		return 0, err
	}
	count, err := s.index.Build(vetted.Path)
	if err != nil {
		return 0, err
	}
	s.engine.Note("build_index", []string{vetted.Path}, "completed")
	return count, nil
}

// CreateSymlink creates a symbolic link at linkPath pointing to
// targetPath.
func (s *Service) CreateSymlink(agentID, linkPath, targetPath string) error {
	link, target, err := s.engine.VetSymlink(agentID, linkPath, targetPath)
	if err != nil {
		return err
	}

	if err := auxops.CreateSymlink(s.engine.Policy().WorkspaceRoot, link.Path, target.Path); err != nil {
		return err
	}
	s.engine.Note("create_symlink", []string{link.Path, target.Path}, "created")
	return nil
}

// ComputeChecksum computes path's digest under algorithm.
func (s *Service) ComputeChecksum(agentID, path string, algorithm auxops.Algorithm) (string, error) {
	vetted, err := s.engine.Vet(agentID, path, security.OperationRead)
	if err != nil {
		return "", err
	}
	digest, err := auxops.Compute(vetted.Path, algorithm)
	if err != nil {
		return "", err
	}
	s.engine.Note("compute_checksum", []string{vetted.Path}, "computed")
	return digest, nil
}

// VerifyChecksumResult is the structured response for VerifyChecksum.
type VerifyChecksumResult struct {
	Match    bool
	Expected string
	Actual   string
}

// VerifyChecksum computes path's digest under algorithm and compares it
// against expectedHex.
func (s *Service) VerifyChecksum(agentID, path string, algorithm auxops.Algorithm, expectedHex string) (VerifyChecksumResult, error) {
	vetted, err := s.engine.Vet(agentID, path, security.OperationRead)
	if err != nil {
		return VerifyChecksumResult{}, err
	}

	actual, err := auxops.Compute(vetted.Path, algorithm)
	if err != nil {
		return VerifyChecksumResult{}, err
	}

	result := VerifyChecksumResult{
		Match:    strings.EqualFold(actual, expectedHex),
		Expected: expectedHex,
		Actual:   actual,
	}
	s.engine.Note("verify_checksum", []string{vetted.Path}, "verified")
	return result, nil
}

// AnalyzeDiskUsage reports disk usage for path.
func (s *Service) AnalyzeDiskUsage(agentID, path string, depth int, groupByType bool) (auxops.DiskUsage, error) {
	vetted, err := s.engine.Vet(agentID, path, security.OperationRead)
	if err != nil {
		return auxops.DiskUsage{}, err
	}
	usage, err := auxops.AnalyzeDiskUsage(vetted.Path, auxops.DiskUsageOptions{MaxDepth: depth, Histogram: groupByType})
	if err != nil {
		return auxops.DiskUsage{}, err
	}
	s.engine.Note("analyze_disk_usage", []string{vetted.Path}, "completed")
	return usage, nil
}

// CopyDirectoryResult is the structured response for CopyDirectory.
type CopyDirectoryResult struct {
	FilesCopied int
	Bytes       int64
	DurationMS  int64
}

// CopyDirectory recursively copies source into destination.
func (s *Service) CopyDirectory(agentID, source, destination string, preserveMetadata bool, exclusions []string) (CopyDirectoryResult, error) {
	vettedSource, err := s.engine.Vet(agentID, source, security.OperationRead)
	if err != nil {
		return CopyDirectoryResult{}, err
	}
	vettedDestination, err := s.engine.Vet(agentID, destination, security.OperationWrite)
	if err != nil {
		return CopyDirectoryResult{}, err
	}

	excludeGlobs, err := compileGlobs(exclusions)
	if err != nil {
		return CopyDirectoryResult{}, err
	}

	start := time.Now()
	stats, err := dirops.Copy(vettedSource.Path, vettedDestination.Path, dirops.CopyOptions{
		PreserveMetadata: preserveMetadata,
		Exclude:          excludeGlobs,
	})
	if err != nil {
		return CopyDirectoryResult{}, err
	}

	s.engine.Note("copy_directory", []string{vettedSource.Path, vettedDestination.Path}, "completed")
	return CopyDirectoryResult{
		FilesCopied: stats.FilesCopied,
		Bytes:       stats.BytesTransferred,
		DurationMS:  time.Since(start).Milliseconds(),
	}, nil
}

// SyncDirectoryResult is the structured response for SyncDirectory.
type SyncDirectoryResult struct {
	FilesCopied  int
	FilesSkipped int
	DurationMS   int64
}

// SyncDirectory synchronizes destination from source using newer-mtime
// comparison, without preserving metadata.
func (s *Service) SyncDirectory(agentID, source, destination string, exclusions []string) (SyncDirectoryResult, error) {
	vettedSource, err := s.engine.Vet(agentID, source, security.OperationRead)
	if err != nil {
		return SyncDirectoryResult{}, err
	}
	vettedDestination, err := s.engine.Vet(agentID, destination, security.OperationWrite)
	if err != nil {
		return SyncDirectoryResult{}, err
	}

	excludeGlobs, err := compileGlobs(exclusions)
	if err != nil {
		return SyncDirectoryResult{}, err
	}

	start := time.Now()
	stats, err := dirops.Sync(vettedSource.Path, vettedDestination.Path, dirops.CopyOptions{Exclude: excludeGlobs})
	if err != nil {
		return SyncDirectoryResult{}, err
	}

	s.engine.Note("sync_directory", []string{vettedSource.Path, vettedDestination.Path}, "completed")
	return SyncDirectoryResult{
		FilesCopied:  stats.FilesCopied,
		FilesSkipped: stats.FilesSkipped,
		DurationMS:   time.Since(start).Milliseconds(),
	}, nil
}

// AtomicReplace writes content to target using a rename-into-place
// temporary file. It is not one of the twelve documented public operations
// but is exposed here since dirops.AtomicReplace requires a vetted path
// and Service is where every other component's vetting happens.
func (s *Service) AtomicReplace(agentID, target string, content []byte) error {
	vetted, err := s.engine.Vet(agentID, target, security.OperationWrite)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(vetted.Path)
	permissions := os.FileMode(0o644)
	if statErr == nil {
		permissions = info.Mode().Perm()
	}
	if err := dirops.AtomicReplace(vetted.Path, content, permissions); err != nil {
		return err
	}
	s.engine.Note("atomic_replace", []string{vetted.Path}, "replaced")
	return nil
}

// compileGlobs compiles a list of raw glob patterns using the
// segment-aware grammar shared by directory-copy exclusions and watch
// filters.
func compileGlobs(patterns []string) ([]*security.RelativeGlob, error) {
	compiled := make([]*security.RelativeGlob, 0, len(patterns))
	for _, pattern := range patterns {
		glob, err := security.CompileGlob(pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, glob)
	}
	return compiled, nil
}
