package context

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/pathguard"
)

func TestDetectAndSaveProjectMemory_DetectsGo(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/foo\n"), 0o600); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}

	if err := DetectAndSaveProjectMemory(root); err != nil {
		t.Fatalf("DetectAndSaveProjectMemory: %v", err)
	}

	path, err := pathguard.ResolveOmc("project-memory.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var mem ProjectMemory
	found, err := atomicstore.SafeReadJSON(path, &mem)
	if err != nil || !found {
		t.Fatalf("expected project-memory.json written, found=%v err=%v", found, err)
	}
	if mem.Language != "Go" {
		t.Errorf("expected Go detected, got %q", mem.Language)
	}
}

func TestDetectAndSaveProjectMemory_DoesNotOverwriteExisting(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/foo\n"), 0o600); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	path, err := pathguard.ResolveOmc("project-memory.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	seeded := ProjectMemory{Language: "Custom", TestCommand: "custom test"}
	if err := atomicstore.WriteJSON(path, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := DetectAndSaveProjectMemory(root); err != nil {
		t.Fatalf("DetectAndSaveProjectMemory: %v", err)
	}

	var mem ProjectMemory
	if _, err := atomicstore.SafeReadJSON(path, &mem); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if mem.Language != "Custom" {
		t.Errorf("expected existing project-memory.json preserved, got %q", mem.Language)
	}
}

func TestDetectAndSaveProjectMemory_NoMarkerNoOp(t *testing.T) {
	root := t.TempDir()
	if err := DetectAndSaveProjectMemory(root); err != nil {
		t.Fatalf("DetectAndSaveProjectMemory: %v", err)
	}
	path, err := pathguard.ResolveOmc("project-memory.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no project-memory.json written, err=%v", err)
	}
}
