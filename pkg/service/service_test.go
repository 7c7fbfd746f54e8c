package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sandboxfs/sandboxfs/pkg/auxops"
	"github.com/sandboxfs/sandboxfs/pkg/batch"
	"github.com/sandboxfs/sandboxfs/pkg/security"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()

	root, err := os.MkdirTemp("", "sandboxfs_service")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	policy := &security.PolicyConfig{
		WorkspaceRoot:   root,
		MaxFileSize:     defaultMaxFileSize,
		MaxBatchSize:    defaultMaxBatchSize,
		MaxOpsPerMinute: defaultMaxOpsPerMinute,
		AuditEnabled:    true,
	}
	return New(policy, nil, nil, nil), root
}

func TestServiceRejectsPathOutsideWorkspace(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ComputeChecksum("agent", "/etc/passwd", auxops.AlgorithmSHA256)
	if err == nil {
		t.Fatal("expected workspace escape to be rejected")
	}
}

func TestServiceComputeAndVerifyChecksum(t *testing.T) {
	svc, root := newTestService(t)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	digest, err := svc.ComputeChecksum("agent", path, auxops.AlgorithmSHA256)
	if err != nil {
		t.Fatal("compute failed:", err)
	}

	result, err := svc.VerifyChecksum("agent", path, auxops.AlgorithmSHA256, digest)
	if err != nil {
		t.Fatal("verify failed:", err)
	}
	if !result.Match {
		t.Error("expected checksum to match")
	}
}

func TestServiceBatchOperationsCopy(t *testing.T) {
	svc, root := newTestService(t)

	source := filepath.Join(root, "a.txt")
	if err := os.WriteFile(source, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	destination := filepath.Join(root, "b.txt")

	results, err := svc.BatchOperations("agent", []batch.Op{{Kind: batch.OpCopy, Source: source, Destination: destination}}, true)
	if err != nil {
		t.Fatal("batch failed:", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Error("expected copy operation to succeed")
	}
}

func TestServiceCopyAndSyncDirectory(t *testing.T) {
	svc, root := newTestService(t)

	source := filepath.Join(root, "source")
	destination := filepath.Join(root, "destination")
	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	copyResult, err := svc.CopyDirectory("agent", source, destination, false, nil)
	if err != nil {
		t.Fatal("copy directory failed:", err)
	}
	if copyResult.FilesCopied != 1 {
		t.Errorf("FilesCopied = %d, want 1", copyResult.FilesCopied)
	}

	syncResult, err := svc.SyncDirectory("agent", source, destination, nil)
	if err != nil {
		t.Fatal("sync directory failed:", err)
	}
	if syncResult.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1 (unchanged file should be skipped)", syncResult.FilesSkipped)
	}
}

func TestServiceWatchLifecycle(t *testing.T) {
	svc, root := newTestService(t)
	defer svc.StopAllWatches()

	sessionID, err := svc.WatchDirectory("agent", root, false, nil)
	if err != nil {
		t.Fatal("watch failed:", err)
	}

	if err := svc.StopWatch(sessionID); err != nil {
		t.Fatal("stop watch failed:", err)
	}

	if _, err := svc.GetWatchEvents(sessionID, false); err == nil {
		t.Error("expected SESSION_NOT_FOUND after stop")
	}
}

func TestServiceBuildIndexAndSearch(t *testing.T) {
	svc, root := newTestService(t)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("needle in haystack\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.BuildIndex("agent", root); err != nil {
		t.Fatal("build index failed:", err)
	}

	matches, err := svc.SearchFiles("agent", root, "needle")
	if err != nil {
		t.Fatal("search failed:", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}
