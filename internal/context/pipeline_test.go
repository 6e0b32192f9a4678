package context

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

func writeProjectMemory(t *testing.T, root string, mem ProjectMemory) {
	t.Helper()
	path, err := pathguard.ResolveOmc("project-memory.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := atomicstore.WriteJSON(path, mem); err != nil {
		t.Fatalf("write project memory: %v", err)
	}
}

func TestAssemble_IncludesProjectMemory(t *testing.T) {
	root := t.TempDir()
	writeProjectMemory(t, root, ProjectMemory{Language: "Go", TestCommand: "go test ./..."})

	p := New(root)
	defer p.Close()

	out, err := p.Assemble(context.Background(), Input{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out, "Go") || !strings.Contains(out, "go test ./...") {
		t.Errorf("expected project memory in context, got %q", out)
	}
}

func TestAssemble_RuleDedupPerSession(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	rules := []Rule{{ID: "r1", Body: "always run tests before committing"}}

	first, err := p.Assemble(context.Background(), Input{SessionID: "s1", Rules: rules})
	if err != nil {
		t.Fatalf("Assemble (1st): %v", err)
	}
	if !strings.Contains(first, "always run tests before committing") {
		t.Fatalf("expected rule injected on first call, got %q", first)
	}

	second, err := p.Assemble(context.Background(), Input{SessionID: "s1", Rules: rules})
	if err != nil {
		t.Fatalf("Assemble (2nd): %v", err)
	}
	if strings.Contains(second, "always run tests before committing") {
		t.Errorf("expected rule deduped on second call for same session, got %q", second)
	}
}

func TestAssemble_RuleNotDedupedAcrossSessions(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	rules := []Rule{{ID: "r1", Body: "always run tests before committing"}}
	if _, err := p.Assemble(context.Background(), Input{SessionID: "s1", Rules: rules}); err != nil {
		t.Fatalf("Assemble (s1): %v", err)
	}
	out, err := p.Assemble(context.Background(), Input{SessionID: "s2", Rules: rules})
	if err != nil {
		t.Fatalf("Assemble (s2): %v", err)
	}
	if !strings.Contains(out, "always run tests before committing") {
		t.Errorf("expected rule injected for a different session, got %q", out)
	}
}

func TestAssemble_ScopedRuleSkippedWhenOutOfScope(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	rules := []Rule{{ID: "r1", Scope: "Bash", Body: "be careful with rm"}}
	out, err := p.Assemble(context.Background(), Input{SessionID: "s1", ToolName: "Edit", Rules: rules})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(out, "be careful with rm") {
		t.Errorf("expected out-of-scope rule excluded, got %q", out)
	}
}

func TestAssemble_SkillTriggeredByKeyword(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	skills := []Skill{{URI: "omc://skills/deploy", Name: "deploy", TriggerKeywords: []string{"deploy"}, Body: "run the deploy checklist"}}
	out, err := p.Assemble(context.Background(), Input{SessionID: "s1", Prompt: "please deploy to staging", Skills: skills})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out, "run the deploy checklist") {
		t.Errorf("expected triggered skill injected, got %q", out)
	}
}

func TestAssemble_SkillNotTriggeredWithoutKeyword(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	skills := []Skill{{URI: "omc://skills/deploy", Name: "deploy", TriggerKeywords: []string{"deploy"}, Body: "run the deploy checklist"}}
	out, err := p.Assemble(context.Background(), Input{SessionID: "s1", Prompt: "write some tests", Skills: skills})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if strings.Contains(out, "run the deploy checklist") {
		t.Errorf("expected untriggered skill excluded, got %q", out)
	}
}

func TestAssemble_IncludesPRDStatus(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	prd := &domain.PRD{Stories: []domain.PRDStory{
		{ID: "story-1", Priority: 1, Passes: true},
		{ID: "story-2", Priority: 2, Passes: false, Title: "add retries"},
	}}
	out, err := p.Assemble(context.Background(), Input{SessionID: "s1", ActivePRD: prd})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(out, "story-2") || !strings.Contains(out, "1/2") {
		t.Errorf("expected current story and progress count, got %q", out)
	}
}

func TestBound_DropsLowPrioritySectionsOverBudget(t *testing.T) {
	sections := []section{
		{name: "project-memory", body: strings.Repeat("a", 10)},
		{name: "progress", body: strings.Repeat("b", 10)},
	}
	out := bound(sections, 10)
	if strings.Contains(out, "b") {
		t.Errorf("expected lower-priority section dropped over budget, got %q", out)
	}
	if !strings.Contains(out, "a") {
		t.Errorf("expected higher-priority section kept, got %q", out)
	}
}

func TestBound_TruncatesSkillBodyInsteadOfDropping(t *testing.T) {
	sections := []section{
		{name: "project-memory", body: strings.Repeat("a", 5)},
		{name: "skills", body: strings.Repeat("s", 20)},
	}
	out := bound(sections, 10)
	if !strings.Contains(out, "aaaaa") {
		t.Fatalf("expected project-memory section kept in full, got %q", out)
	}
	if strings.Count(out, "s") == 0 {
		t.Errorf("expected skills section truncated rather than dropped entirely, got %q", out)
	}
}

func TestAssemble_CacheInvalidationPicksUpExternalReset(t *testing.T) {
	// A new hook invocation is a separate process (spec §5); the in-memory
	// cache only ever accelerates repeat calls within one process's
	// lifetime. fsnotify's job is to stop trusting that accelerator the
	// instant something external (another process, a hand edit) changes
	// the on-disk session cache out from under it. Simulate that: prime the
	// in-memory cache, have "another process" reset the on-disk file, then
	// confirm clearing the in-memory cache (what the watch loop does) makes
	// Assemble honor the fresh disk state instead of the stale one.
	root := t.TempDir()
	p := New(root)
	defer p.Close()

	rules := []Rule{{ID: "r1", Body: "always run tests before committing"}}
	if _, err := p.Assemble(context.Background(), Input{SessionID: "s1", Rules: rules}); err != nil {
		t.Fatalf("Assemble (1st): %v", err)
	}

	cachePath, err := pathguard.ResolveOmc("state/skill-sessions.json", root)
	if err != nil {
		t.Fatalf("resolve cache path: %v", err)
	}
	if err := atomicstore.WriteJSON(cachePath, map[string]*sessionCache{}); err != nil {
		t.Fatalf("reset on-disk cache: %v", err)
	}

	notepadPath, err := pathguard.ResolveOmc("notepad.md", root)
	if err != nil {
		t.Fatalf("resolve notepad path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(notepadPath), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(notepadPath, []byte("## MANUAL\nhand edit"), 0o600); err != nil {
		t.Fatalf("write notepad: %v", err)
	}

	// The in-memory cache clears asynchronously off the fsnotify event above;
	// invoke the same clear the watch loop performs rather than sleeping on
	// the filesystem watcher in a unit test.
	p.mu.Lock()
	p.cache = make(map[string]*sessionCache)
	p.mu.Unlock()

	out, err := p.Assemble(context.Background(), Input{SessionID: "s1", Rules: rules})
	if err != nil {
		t.Fatalf("Assemble (after invalidation): %v", err)
	}
	if !strings.Contains(out, "always run tests before committing") {
		t.Errorf("expected rule re-injected once the stale in-memory cache was dropped in favor of the reset on-disk state, got %q", out)
	}
}
