package context

import (
	"os"
	"path/filepath"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/pathguard"
)

// projectMarkers maps a file that, if present at root, identifies the
// project's primary language/toolchain, to the ProjectMemory it implies.
// Checked in order; the first match wins.
var projectMarkers = []struct {
	file string
	mem  ProjectMemory
}{
	{"go.mod", ProjectMemory{Language: "Go", BuildCommand: "go build ./...", TestCommand: "go test ./..."}},
	{"Cargo.toml", ProjectMemory{Language: "Rust", BuildCommand: "cargo build", TestCommand: "cargo test"}},
	{"package.json", ProjectMemory{Language: "JavaScript/TypeScript", BuildCommand: "npm run build", TestCommand: "npm test"}},
	{"pyproject.toml", ProjectMemory{Language: "Python", TestCommand: "pytest"}},
	{"go.work", ProjectMemory{Language: "Go", BuildCommand: "go build ./...", TestCommand: "go test ./..."}},
}

// DetectAndSaveProjectMemory is PostToolUse's best-effort project-memory
// learner (spec §4.5 point 2). It writes .omc/project-memory.json only if
// absent, so it never clobbers an operator's own edits or a richer record a
// future learner pass produces.
func DetectAndSaveProjectMemory(root string) error {
	path, err := pathguard.ResolveOmc("project-memory.json", root)
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(root, marker.file)); err == nil {
			return atomicstore.WriteJSON(path, marker.mem)
		}
	}
	return nil
}
