package persistmode

import (
	"strings"
	"testing"
	"time"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/pathguard"
)

// ralphActive reads sid's per-session ralph record directly. Ralph is
// session-scoped (not worktree-global), so it cannot be observed through
// the worktree-wide modes.IsModeActive.
func ralphActive(t *testing.T, sid, root string) bool {
	t.Helper()
	var state domain.RalphState
	found, err := modes.LoadSession(domain.ModeRalph, sid, root, &state)
	if err != nil {
		t.Fatalf("LoadSession(ralph): %v", err)
	}
	return found && state.Active
}

func TestHandleStop_NoActiveModeAllows(t *testing.T) {
	root := t.TempDir()
	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	if !v.Continue || v.HookSpecificOutput != nil {
		t.Fatalf("expected bare allow, got %+v", v)
	}
}

func TestHandleStop_RalphDeniesAndIncrements(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "do the thing", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	if v.HookSpecificOutput == nil || v.HookSpecificOutput.Decision == nil || v.HookSpecificOutput.Decision.Behavior != "deny" {
		t.Fatalf("expected deny-stop, got %+v", v)
	}
	var state domain.RalphState
	found, err := modes.LoadSession(domain.ModeRalph, "s", root, &state)
	if err != nil || !found {
		t.Fatalf("expected ralph state to still exist, found=%v err=%v", found, err)
	}
	if state.Iteration != 1 {
		t.Errorf("expected iteration bumped to 1, got %d", state.Iteration)
	}
}

func TestHandleStop_RalphMaxIterationsTerminates(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 1, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	if _, err := HandleStop("s", root); err != nil {
		t.Fatalf("HandleStop (1st): %v", err)
	}
	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop (2nd): %v", err)
	}
	if !v.Continue || v.HookSpecificOutput != nil {
		t.Fatalf("expected terminal allow once max iterations exceeded, got %+v", v)
	}
	if ralphActive(t, "s", root) {
		t.Fatalf("expected ralph cleared after terminal transition")
	}
}

func TestHandleStop_ToolErrorGuidanceInjectedAndCleared(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	path, err := pathguard.ResolveOmc("state/last-tool-error.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := atomicstore.WriteJSON(path, domain.LastToolError{
		ToolName:   "Bash",
		Message:    "command not found",
		RetryCount: 1,
		At:         time.Now(),
	}); err != nil {
		t.Fatalf("write tool error: %v", err)
	}

	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	msg := v.HookSpecificOutput.Decision.Reason
	if msg == "" {
		t.Fatalf("expected a deny reason")
	}
	if !strings.Contains(msg, "Retry with corrected parameters") {
		t.Errorf("expected retry guidance in message, got %q", msg)
	}

	if _, found, err := atomicstore.ReadFile(path); err != nil || found {
		t.Fatalf("expected tool error file cleared, found=%v err=%v", found, err)
	}
}

func TestHandleStop_ToolErrorStaleIgnored(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	path, err := pathguard.ResolveOmc("state/last-tool-error.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := atomicstore.WriteJSON(path, domain.LastToolError{
		ToolName: "Bash", Message: "old", RetryCount: 1, At: time.Now().Add(-2 * time.Minute),
	}); err != nil {
		t.Fatalf("write tool error: %v", err)
	}
	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	msg := v.HookSpecificOutput.Decision.Reason
	if strings.Contains(msg, "old") {
		t.Fatalf("expected stale tool error not injected, got %q", msg)
	}
}

func TestHandleStop_ToolErrorOverRetryCeiling(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	path, err := pathguard.ResolveOmc("state/last-tool-error.json", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := atomicstore.WriteJSON(path, domain.LastToolError{
		ToolName: "Bash", Message: "still failing", RetryCount: 5, At: time.Now(),
	}); err != nil {
		t.Fatalf("write tool error: %v", err)
	}
	v, err := HandleStop("s", root)
	if err != nil {
		t.Fatalf("HandleStop: %v", err)
	}
	msg := v.HookSpecificOutput.Decision.Reason
	if !strings.Contains(msg, "alternative approach") {
		t.Errorf("expected alternative-approach guidance past retry ceiling, got %q", msg)
	}
}

func TestIsCancelKeyword(t *testing.T) {
	cases := map[string]bool{
		"stop":     true,
		" Cancel ": true,
		"ABORT":    true,
		"/cancel":  true,
		"keep going": false,
		"":           false,
	}
	for input, want := range cases {
		if got := IsCancelKeyword(input); got != want {
			t.Errorf("IsCancelKeyword(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestHandleUserPromptCancel_ClearsActiveMode(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	cancelled, err := HandleUserPromptCancel("s", root, "stop")
	if err != nil {
		t.Fatalf("HandleUserPromptCancel: %v", err)
	}
	if !cancelled {
		t.Fatalf("expected cancellation to apply")
	}
	if ralphActive(t, "s", root) {
		t.Fatalf("expected ralph cleared after cancel")
	}
}

func TestHandleUserPromptCancel_NonKeywordNoop(t *testing.T) {
	root := t.TempDir()
	if _, err := modes.StartRalph("s", root, "p", 5, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	cancelled, err := HandleUserPromptCancel("s", root, "keep working please")
	if err != nil {
		t.Fatalf("HandleUserPromptCancel: %v", err)
	}
	if cancelled {
		t.Fatalf("expected no cancellation for a non-keyword prompt")
	}
	if !ralphActive(t, "s", root) {
		t.Fatalf("expected ralph to remain active")
	}
}
