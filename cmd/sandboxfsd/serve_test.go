package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sandboxfs/sandboxfs/pkg/logging"
	"github.com/sandboxfs/sandboxfs/pkg/security"
	"github.com/sandboxfs/sandboxfs/pkg/service"
)

func TestRunLoopComputesChecksum(t *testing.T) {
	root, err := os.MkdirTemp("", "sandboxfsd_serve")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	target := filepath.Join(root, "a.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	policy := &security.PolicyConfig{WorkspaceRoot: root, AuditEnabled: false}
	svc := service.New(policy, nil, logging.RootLogger, nil)

	requestLine := `{"id":"1","agentId":"agent","operation":"compute_checksum","params":{"path":"` + escapeJSON(target) + `","algorithm":"sha256"}}` + "\n"

	var out bytes.Buffer
	if err := runLoop(svc, strings.NewReader(requestLine), &out); err != nil {
		t.Fatal("run loop failed:", err)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatal("unable to decode response:", err)
	}
	if !resp.Ok {
		t.Fatalf("expected success response, got error %q", resp.Error)
	}
}

func TestRunLoopReportsUnknownOperation(t *testing.T) {
	root, err := os.MkdirTemp("", "sandboxfsd_serve")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	policy := &security.PolicyConfig{WorkspaceRoot: root}
	svc := service.New(policy, nil, logging.RootLogger, nil)

	requestLine := `{"id":"1","agentId":"agent","operation":"does_not_exist","params":{}}` + "\n"

	var out bytes.Buffer
	if err := runLoop(svc, strings.NewReader(requestLine), &out); err != nil {
		t.Fatal(err)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Ok {
		t.Error("expected an error response for an unknown operation")
	}
}

func escapeJSON(s string) string {
	data, _ := json.Marshal(s)
	return string(data[1 : len(data)-1])
}
