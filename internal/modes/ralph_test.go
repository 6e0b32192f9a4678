package modes

import (
	"errors"
	"testing"

	"github.com/omc/kernel/internal/domain"
)

func TestRalphUltraQA_MutualExclusion(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("x", root, "do the thing", 50, false, false); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}

	_, err := StartUltraQA("x", root, domain.GoalTests, "", 5)
	if err == nil {
		t.Fatalf("expected startUltraQA to fail while ralph is active")
	}
	var conflict *domain.ModeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ModeConflictError, got %T: %v", err, err)
	}
	if conflict.Message == "" {
		t.Fatalf("expected a message mentioning cancellation")
	}

	if err := CancelRalph("x", root); err != nil {
		t.Fatalf("CancelRalph: %v", err)
	}

	if _, err := StartUltraQA("x", root, domain.GoalTests, "", 5); err != nil {
		t.Fatalf("expected startUltraQA to succeed after ralph cancelled: %v", err)
	}
}

// ultraworkActiveForSession reads s's per-session ultrawork record directly,
// since ultrawork is session-scoped (not worktree-global) and so cannot be
// observed through the worktree-wide IsModeActive.
func ultraworkActiveForSession(t *testing.T, sid, root string) bool {
	t.Helper()
	var state domain.UltraworkState
	found, err := LoadSession(domain.ModeUltrawork, sid, root, &state)
	if err != nil {
		t.Fatalf("LoadSession(ultrawork): %v", err)
	}
	return found && state.Active
}

func TestStartRalph_LinksUltrawork(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("s", root, "p", 10, false, false); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	if !ultraworkActiveForSession(t, "s", root) {
		t.Fatalf("expected linked ultrawork active")
	}

	if err := CancelRalph("s", root); err != nil {
		t.Fatalf("CancelRalph: %v", err)
	}
	if ultraworkActiveForSession(t, "s", root) {
		t.Fatalf("expected linked ultrawork removed on cancel")
	}
}

func TestStartRalph_DisableUltrawork(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("s", root, "p", 10, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	if ultraworkActiveForSession(t, "s", root) {
		t.Fatalf("expected no ultrawork when disableUltrawork=true")
	}
}

func TestIncrementRalph(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("s", root, "p", 10, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	state, err := IncrementRalph("s", root)
	if err != nil {
		t.Fatalf("IncrementRalph: %v", err)
	}
	if state.Iteration != 1 {
		t.Errorf("expected iteration 1, got %d", state.Iteration)
	}
	state, err = IncrementRalph("s", root)
	if err != nil {
		t.Fatalf("IncrementRalph: %v", err)
	}
	if state.Iteration != 2 {
		t.Errorf("expected iteration 2, got %d", state.Iteration)
	}
}

func TestRalph_SessionBinding(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("session-a", root, "p", 10, false, true); err != nil {
		t.Fatalf("StartRalph: %v", err)
	}
	var other domain.RalphState
	found, err := LoadSession(domain.ModeRalph, "session-b", root, &other)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if found {
		t.Fatalf("expected record bound to session-a to be invisible to session-b")
	}
}

// TestRalph_ConcurrentSessionsDoNotClobber drives the actual scenario
// invariant M2 exists to prevent: two sessions in the same worktree running
// ralph at once. Before per-session storage, both wrote the same shared
// state/ralph-state.json and the second write silently erased the first
// session's loop.
func TestRalph_ConcurrentSessionsDoNotClobber(t *testing.T) {
	root := t.TempDir()
	if _, err := StartRalph("session-a", root, "prompt-a", 10, false, true); err != nil {
		t.Fatalf("StartRalph(session-a): %v", err)
	}
	if _, err := StartRalph("session-b", root, "prompt-b", 20, false, true); err != nil {
		t.Fatalf("StartRalph(session-b): %v", err)
	}

	if _, err := IncrementRalph("session-a", root); err != nil {
		t.Fatalf("IncrementRalph(session-a): %v", err)
	}

	var a domain.RalphState
	found, err := LoadSession(domain.ModeRalph, "session-a", root, &a)
	if err != nil {
		t.Fatalf("LoadSession(session-a): %v", err)
	}
	if !found || !a.Active {
		t.Fatalf("expected session-a's ralph record to survive session-b starting its own loop")
	}
	if a.Prompt != "prompt-a" || a.MaxIterations != 10 || a.Iteration != 1 {
		t.Fatalf("session-a's record was clobbered by session-b: %+v", a)
	}

	var b domain.RalphState
	found, err = LoadSession(domain.ModeRalph, "session-b", root, &b)
	if err != nil {
		t.Fatalf("LoadSession(session-b): %v", err)
	}
	if !found || b.Prompt != "prompt-b" || b.MaxIterations != 20 || b.Iteration != 0 {
		t.Fatalf("unexpected session-b record: found=%v %+v", found, b)
	}

	if err := CancelRalph("session-a", root); err != nil {
		t.Fatalf("CancelRalph(session-a): %v", err)
	}
	found, err = LoadSession(domain.ModeRalph, "session-b", root, &b)
	if err != nil {
		t.Fatalf("LoadSession(session-b) after cancelling session-a: %v", err)
	}
	if !found || !b.Active {
		t.Fatalf("expected cancelling session-a's ralph loop to leave session-b's untouched")
	}
}
