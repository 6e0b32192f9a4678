package modes

import (
	"testing"

	"github.com/omc/kernel/internal/domain"
)

func TestAutopilot_PhaseTransitions(t *testing.T) {
	root := t.TempDir()
	if _, err := StartAutopilot("s", root, 2); err != nil {
		t.Fatalf("StartAutopilot: %v", err)
	}

	seq := []domain.AutopilotPhase{
		domain.PhasePlanning,
		domain.PhaseExecution,
		domain.PhaseQA,
		domain.PhaseValidation,
	}
	var state *domain.AutopilotState
	var err error
	for _, next := range seq {
		state, err = TransitionAutopilot("s", root, next, 1, "")
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if state.Phase != domain.PhaseValidation {
		t.Fatalf("expected phase validation, got %s", state.Phase)
	}
	if state.AgentCount != len(seq) {
		t.Errorf("expected agent count %d, got %d", len(seq), state.AgentCount)
	}
}

func TestAutopilot_InvalidTransitionRejected(t *testing.T) {
	root := t.TempDir()
	if _, err := StartAutopilot("s", root, 2); err != nil {
		t.Fatalf("StartAutopilot: %v", err)
	}
	if _, err := TransitionAutopilot("s", root, domain.PhaseComplete, 0, ""); err == nil {
		t.Fatalf("expected expansion -> complete to be rejected")
	}
}

// TestAutopilot_ValidationRoundsOverflow exercises the bounded
// validation<->qa retry loop: exceeding MaxValidationRounds auto-fails.
func TestAutopilot_ValidationRoundsOverflow(t *testing.T) {
	root := t.TempDir()
	if _, err := StartAutopilot("s", root, 1); err != nil {
		t.Fatalf("StartAutopilot: %v", err)
	}
	for _, next := range []domain.AutopilotPhase{domain.PhasePlanning, domain.PhaseExecution, domain.PhaseQA, domain.PhaseValidation} {
		if _, err := TransitionAutopilot("s", root, next, 0, ""); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	// First validation -> qa round is within budget.
	state, err := TransitionAutopilot("s", root, domain.PhaseQA, 0, "")
	if err != nil {
		t.Fatalf("first validation round: %v", err)
	}
	if state.Phase != domain.PhaseQA {
		t.Fatalf("expected phase qa after first round, got %s", state.Phase)
	}
	if _, err := TransitionAutopilot("s", root, domain.PhaseValidation, 0, ""); err != nil {
		t.Fatalf("back to validation: %v", err)
	}
	// Second validation -> qa round exceeds MaxValidationRounds=1, auto-fails.
	state, err = TransitionAutopilot("s", root, domain.PhaseQA, 0, "")
	if err != nil {
		t.Fatalf("second validation round: %v", err)
	}
	if state.Phase != domain.PhaseFailed {
		t.Fatalf("expected auto-fail after exceeding max validation rounds, got %s", state.Phase)
	}
	if state.Active {
		t.Fatalf("expected autopilot inactive once failed")
	}
}

func TestCancelAutopilot(t *testing.T) {
	root := t.TempDir()
	if _, err := StartAutopilot("s", root, 3); err != nil {
		t.Fatalf("StartAutopilot: %v", err)
	}
	if err := CancelAutopilot(root); err != nil {
		t.Fatalf("CancelAutopilot: %v", err)
	}
	active, err := IsModeActive(domain.ModeAutopilot, root)
	if err != nil || active {
		t.Fatalf("expected autopilot inactive after cancel, active=%v err=%v", active, err)
	}
}
