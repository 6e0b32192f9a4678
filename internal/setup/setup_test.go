package setup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omc/kernel/internal/pathguard"
)

func TestInit_CreatesStandardSubtree(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, dir := range subtreeDirs {
		path, err := pathguard.ResolveOmc(dir, root)
		if err != nil {
			t.Fatalf("resolve %s: %v", dir, err)
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to exist as a directory, err=%v", path, err)
		}
	}
}

func TestInit_Idempotent(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init (1st): %v", err)
	}
	if err := Init(root); err != nil {
		t.Fatalf("Init (2nd): %v", err)
	}
}

func TestMaintenance_PrunesAgedStateExceptPreserved(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	stateDir, err := pathguard.ResolveOmc("state", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	aged := filepath.Join(stateDir, "ecomode-state.json")
	preserved := filepath.Join(stateDir, "ralph-state.json")
	if err := os.WriteFile(aged, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write aged: %v", err)
	}
	if err := os.WriteFile(preserved, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write preserved: %v", err)
	}
	old := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(aged, old, old); err != nil {
		t.Fatalf("chtimes aged: %v", err)
	}
	if err := os.Chtimes(preserved, old, old); err != nil {
		t.Fatalf("chtimes preserved: %v", err)
	}

	Maintenance(root, time.Now(), 0)

	if _, err := os.Stat(aged); !os.IsNotExist(err) {
		t.Errorf("expected aged non-preserved state file to be pruned, err=%v", err)
	}
	if _, err := os.Stat(preserved); err != nil {
		t.Errorf("expected preserved persistent-mode state file to survive, err=%v", err)
	}
}

func TestMaintenance_PrunesAgedSessionFiles(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sidDir, err := pathguard.ResolveOmc("state/sessions/s1", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := os.MkdirAll(sidDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	agedFile := filepath.Join(sidDir, "ralph-state.json")
	if err := os.WriteFile(agedFile, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(agedFile, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	Maintenance(root, time.Now(), 0)

	if _, err := os.Stat(sidDir); !os.IsNotExist(err) {
		t.Errorf("expected emptied session dir to be removed, err=%v", err)
	}
}

func TestMaintenance_KeepsFreshSessionFiles(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sidDir, err := pathguard.ResolveOmc("state/sessions/s1", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := os.MkdirAll(sidDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	freshFile := filepath.Join(sidDir, "ralph-state.json")
	if err := os.WriteFile(freshFile, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	Maintenance(root, time.Now(), 0)

	if _, err := os.Stat(freshFile); err != nil {
		t.Errorf("expected fresh session file to survive, err=%v", err)
	}
}
