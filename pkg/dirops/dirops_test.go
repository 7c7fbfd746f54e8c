package dirops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandboxfs/sandboxfs/pkg/security"
)

func tempWorkspace(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sandboxfs_dirops")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestCopyCountsOnlyRegularFiles(t *testing.T) {
	root := tempWorkspace(t)
	source := filepath.Join(root, "source")
	destination := filepath.Join(root, "destination")

	if err := os.MkdirAll(filepath.Join(source, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "sub", "b.txt"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := Copy(source, destination, CopyOptions{})
	if err != nil {
		t.Fatal("copy failed:", err)
	}
	if stats.FilesCopied != 2 {
		t.Errorf("FilesCopied = %d, want 2", stats.FilesCopied)
	}
	if stats.BytesTransferred != 5 {
		t.Errorf("BytesTransferred = %d, want 5", stats.BytesTransferred)
	}

	if _, err := os.Stat(filepath.Join(destination, "sub", "b.txt")); err != nil {
		t.Error("expected nested file to be copied")
	}
}

func TestCopyHonorsExclusionGlobs(t *testing.T) {
	root := tempWorkspace(t)
	source := filepath.Join(root, "source")
	destination := filepath.Join(root, "destination")

	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "skip.log"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	glob, err := security.CompileGlob("*.log")
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Copy(source, destination, CopyOptions{Exclude: []*security.RelativeGlob{glob}})
	if err != nil {
		t.Fatal("copy failed:", err)
	}
	if stats.FilesCopied != 1 {
		t.Errorf("FilesCopied = %d, want 1", stats.FilesCopied)
	}
	if _, err := os.Stat(filepath.Join(destination, "skip.log")); !os.IsNotExist(err) {
		t.Error("excluded file should not have been copied")
	}
}

func TestSyncSkipsNewerDestination(t *testing.T) {
	root := tempWorkspace(t)
	source := filepath.Join(root, "source")
	destination := filepath.Join(root, "destination")

	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		t.Fatal(err)
	}

	sourceFile := filepath.Join(source, "a.txt")
	destinationFile := filepath.Join(destination, "a.txt")

	if err := os.WriteFile(sourceFile, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(destinationFile, []byte("newer"), 0o644); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	future := time.Now()
	if err := os.Chtimes(sourceFile, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(destinationFile, future, future); err != nil {
		t.Fatal(err)
	}

	stats, err := Sync(source, destination, CopyOptions{})
	if err != nil {
		t.Fatal("sync failed:", err)
	}
	if stats.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", stats.FilesSkipped)
	}

	data, err := os.ReadFile(destinationFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "newer" {
		t.Error("sync should not have overwritten the newer destination file")
	}
}

func TestAtomicReplaceSucceeds(t *testing.T) {
	root := tempWorkspace(t)
	target := filepath.Join(root, "config.json")

	if err := AtomicReplace(target, []byte("first"), 0o644); err != nil {
		t.Fatal("first atomic replace failed:", err)
	}
	if err := AtomicReplace(target, []byte("second"), 0o644); err != nil {
		t.Fatal("second atomic replace failed:", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("target contents = %q, want %q", data, "second")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if len(entry.Name()) >= 4 && entry.Name()[:4] == ".tmp" {
			t.Errorf("temporary file %q should not remain after successful replace", entry.Name())
		}
	}
}

func TestAtomicReplaceFailsOnMissingDirectory(t *testing.T) {
	if err := AtomicReplace("/does/not/exist/config.json", []byte("x"), 0o644); err == nil {
		t.Error("expected atomic replace to fail for a missing parent directory")
	}
}
