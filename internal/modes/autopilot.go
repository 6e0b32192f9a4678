package modes

import (
	"fmt"
	"time"

	"github.com/omc/kernel/internal/domain"
)

// autopilotTransitions is the unidirectional phase machine, except
// validation -> qa which is a bounded retry loop (spec §4.4 "Autopilot").
var autopilotTransitions = map[domain.AutopilotPhase][]domain.AutopilotPhase{
	domain.PhaseExpansion:  {domain.PhasePlanning},
	domain.PhasePlanning:   {domain.PhaseExecution},
	domain.PhaseExecution:  {domain.PhaseQA},
	domain.PhaseQA:         {domain.PhaseValidation},
	domain.PhaseValidation: {domain.PhaseQA, domain.PhaseComplete, domain.PhaseFailed},
}

// StartAutopilot begins the expansion phase. Caller must have already
// confirmed CanStartMode(autopilot) returned Allowed.
func StartAutopilot(sid, root string, maxValidationRounds int) (*domain.AutopilotState, error) {
	state := &domain.AutopilotState{
		Frame:               domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		Phase:               domain.PhaseExpansion,
		MaxValidationRounds: maxValidationRounds,
		Phases:              map[domain.AutopilotPhase]domain.AutopilotSubRecord{},
	}
	touch(&state.Frame)
	state.Phases[domain.PhaseExpansion] = domain.AutopilotSubRecord{EnteredAt: state.StartedAt}
	if err := SaveGlobal(domain.ModeAutopilot, root, state); err != nil {
		return nil, err
	}
	return state, nil
}

// TransitionAutopilot moves from the current phase to next, validating the
// transition table and bounding the validation->qa retry loop by
// MaxValidationRounds. AgentCount is monotonically increasing: callers pass
// the delta to add (0 for a transition with no new agents).
func TransitionAutopilot(sid, root string, next domain.AutopilotPhase, agentDelta int, notes string) (*domain.AutopilotState, error) {
	var state domain.AutopilotState
	found, err := LoadForSession(domain.ModeAutopilot, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found || !state.Active {
		return nil, fmt.Errorf("modes: no active autopilot state for session %s", sid)
	}

	allowed := autopilotTransitions[state.Phase]
	ok := false
	for _, p := range allowed {
		if p == next {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("modes: autopilot cannot transition %s -> %s", state.Phase, next)
	}

	if state.Phase == domain.PhaseValidation && next == domain.PhaseQA {
		state.ValidationRounds++
		if state.ValidationRounds > state.MaxValidationRounds {
			next = domain.PhaseFailed
		}
	}

	if agentDelta < 0 {
		agentDelta = 0
	}
	state.AgentCount += agentDelta
	state.Phase = next
	if state.Phases == nil {
		state.Phases = map[domain.AutopilotPhase]domain.AutopilotSubRecord{}
	}
	state.Phases[next] = domain.AutopilotSubRecord{EnteredAt: time.Now(), Notes: notes}

	if next == domain.PhaseComplete || next == domain.PhaseFailed {
		state.Active = false
	}
	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeAutopilot, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelAutopilot removes the autopilot record.
func CancelAutopilot(root string) error {
	return DeleteGlobal(domain.ModeAutopilot, root)
}
