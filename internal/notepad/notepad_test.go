package notepad

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/omc/kernel/internal/pathguard"
)

func mustNotepadPath(t *testing.T, root string) string {
	t.Helper()
	path, err := pathguard.ResolveOmc("notepad.md", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return path
}

func TestScrapeRememberTags_ExtractsMultiple(t *testing.T) {
	text := "noise <remember>fact one</remember> more noise <remember>fact two</remember>"
	got := ScrapeRememberTags(text)
	if len(got) != 2 || got[0] != "fact one" || got[1] != "fact two" {
		t.Fatalf("unexpected scrape result: %#v", got)
	}
}

func TestScrapeRememberTags_NoneFound(t *testing.T) {
	if got := ScrapeRememberTags("nothing to see here"); got != nil {
		t.Errorf("expected nil for no tags, got %#v", got)
	}
}

func TestAppendWorkingMemory_CreatesFileWithSections(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(root+"/.omc", 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := AppendWorkingMemory(root, []string{"learned a fact"}, now); err != nil {
		t.Fatalf("AppendWorkingMemory: %v", err)
	}
	data, err := os.ReadFile(mustNotepadPath(t, root))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)
	for _, want := range []string{headerPriority, headerWorking, headerManual, "learned a fact", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected notepad to contain %q, got %q", want, content)
		}
	}
}

func TestAppendWorkingMemory_PreservesManualSection(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(root+"/.omc", 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := mustNotepadPath(t, root)
	seed := headerPriority + "\nkeep this\n\n" + headerWorking + "\n- old entry\n\n" + headerManual + "\nhand-written notes\n"
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := AppendWorkingMemory(root, []string{"new fact"}, time.Now()); err != nil {
		t.Fatalf("AppendWorkingMemory: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)
	for _, want := range []string{"keep this", "old entry", "new fact", "hand-written notes"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected notepad to retain %q, got %q", want, content)
		}
	}
}
