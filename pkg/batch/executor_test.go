package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sandboxfs/sandboxfs/pkg/logging"
	"github.com/sandboxfs/sandboxfs/pkg/security"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()

	root, err := os.MkdirTemp("", "sandboxfs_batch")
	if err != nil {
		t.Fatal("unable to create temporary workspace:", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	policy := &security.PolicyConfig{WorkspaceRoot: root}
	engine := security.NewEngine(policy, security.NewRateLimiter(0, 0), nil, logging.RootLogger)
	return NewExecutor(engine, logging.RootLogger), root
}

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteCopySucceeds(t *testing.T) {
	executor, root := newTestExecutor(t)

	source := filepath.Join(root, "a.txt")
	writeFile(t, source, []byte("hello"))

	destination := filepath.Join(root, "b.txt")
	results, err := executor.Execute("agent", []Op{{Kind: OpCopy, Source: source, Destination: destination}}, true)
	if err != nil {
		t.Fatal("batch execution failed:", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatal("expected copy to succeed")
	}

	data, err := os.ReadFile(destination)
	if err != nil {
		t.Fatal("unable to read destination:", err)
	}
	if string(data) != "hello" {
		t.Errorf("destination contents = %q, want %q", data, "hello")
	}
	if _, err := os.Stat(source); err != nil {
		t.Error("copy should not remove source")
	}
}

func TestExecuteAtomicRollsBackOnFailure(t *testing.T) {
	executor, root := newTestExecutor(t)

	sourceA := filepath.Join(root, "a.txt")
	writeFile(t, sourceA, []byte("hello"))
	destinationA := filepath.Join(root, "copy-of-a.txt")

	// A second op deleting a path that doesn't exist. Pre-validation only
	// vets a delete's path, so this forces a runtime failure after the first
	// op has already executed.
	missingSource := filepath.Join(root, "missing.txt")

	ops := []Op{
		{Kind: OpCopy, Source: sourceA, Destination: destinationA},
		{Kind: OpDelete, Source: missingSource},
	}

	_, err := executor.Execute("agent", ops, true)
	if err == nil {
		t.Fatal("expected atomic batch to fail")
	}

	if _, statErr := os.Stat(destinationA); !os.IsNotExist(statErr) {
		t.Error("rollback should have removed the first op's destination")
	}
}

func TestExecuteNonAtomicContinuesPastFailure(t *testing.T) {
	executor, root := newTestExecutor(t)

	sourceA := filepath.Join(root, "a.txt")
	writeFile(t, sourceA, []byte("hello"))
	destinationA := filepath.Join(root, "copy-of-a.txt")

	missingSource := filepath.Join(root, "missing.txt")
	destinationB := filepath.Join(root, "copy-of-missing.txt")

	ops := []Op{
		{Kind: OpCopy, Source: missingSource, Destination: destinationB},
		{Kind: OpCopy, Source: sourceA, Destination: destinationA},
	}

	results, err := executor.Execute("agent", ops, false)
	if err != nil {
		t.Fatal("non-atomic batch should not return an error:", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success {
		t.Error("first op should have failed")
	}
	if !results[1].Success {
		t.Error("second op should have succeeded despite first op's failure")
	}
	if _, err := os.Stat(destinationA); err != nil {
		t.Error("second op's destination should exist")
	}
}

func TestExecuteDeleteShadowBacksUpSource(t *testing.T) {
	executor, root := newTestExecutor(t)

	source := filepath.Join(root, "a.txt")
	writeFile(t, source, []byte("hello"))

	_, err := executor.Execute("agent", []Op{{Kind: OpDelete, Source: source}}, true)
	if err != nil {
		t.Fatal("delete batch failed:", err)
	}

	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Error("delete should have removed the original path")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	var foundShadow bool
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".txt" {
			foundShadow = true
		}
	}
	if !foundShadow {
		t.Error("expected a shadow-backup entry to remain after delete")
	}
}

func TestExecuteMoveOverExistingShadowsDestination(t *testing.T) {
	executor, root := newTestExecutor(t)

	source := filepath.Join(root, "a.txt")
	writeFile(t, source, []byte("new"))
	destination := filepath.Join(root, "b.txt")
	writeFile(t, destination, []byte("old"))

	_, err := executor.Execute("agent", []Op{{Kind: OpMove, Source: source, Destination: destination}}, true)
	if err != nil {
		t.Fatal("move batch failed:", err)
	}

	data, err := os.ReadFile(destination)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("destination contents = %q, want %q", data, "new")
	}
}

func TestExecuteAtomicRollsBackMoveWithoutExistingDestination(t *testing.T) {
	executor, root := newTestExecutor(t)

	moveSource := filepath.Join(root, "a.txt")
	writeFile(t, moveSource, []byte("hello"))
	moveDestination := filepath.Join(root, "b.txt")

	missingSource := filepath.Join(root, "missing.txt")

	ops := []Op{
		{Kind: OpMove, Source: moveSource, Destination: moveDestination},
		{Kind: OpDelete, Source: missingSource},
	}

	_, err := executor.Execute("agent", ops, true)
	if err == nil {
		t.Fatal("expected atomic batch to fail")
	}

	data, readErr := os.ReadFile(moveSource)
	if readErr != nil {
		t.Fatal("rollback should have restored the move source:", readErr)
	}
	if string(data) != "hello" {
		t.Errorf("restored source contents = %q, want %q", data, "hello")
	}
	if _, statErr := os.Stat(moveDestination); !os.IsNotExist(statErr) {
		t.Error("rollback should have removed the move destination")
	}
}

func TestExecuteAtomicRollsBackMoveOverExistingDestination(t *testing.T) {
	executor, root := newTestExecutor(t)

	moveSource := filepath.Join(root, "a.txt")
	writeFile(t, moveSource, []byte("new"))
	moveDestination := filepath.Join(root, "b.txt")
	writeFile(t, moveDestination, []byte("old"))

	missingSource := filepath.Join(root, "missing.txt")

	ops := []Op{
		{Kind: OpMove, Source: moveSource, Destination: moveDestination},
		{Kind: OpDelete, Source: missingSource},
	}

	_, err := executor.Execute("agent", ops, true)
	if err == nil {
		t.Fatal("expected atomic batch to fail")
	}

	sourceData, err := os.ReadFile(moveSource)
	if err != nil {
		t.Fatal("rollback should have restored the move source:", err)
	}
	if string(sourceData) != "new" {
		t.Errorf("restored source contents = %q, want %q", sourceData, "new")
	}

	destinationData, err := os.ReadFile(moveDestination)
	if err != nil {
		t.Fatal("rollback should have restored the pre-existing destination:", err)
	}
	if string(destinationData) != "old" {
		t.Errorf("restored destination contents = %q, want %q", destinationData, "old")
	}
}
