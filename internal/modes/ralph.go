package modes

import (
	"fmt"

	"github.com/omc/kernel/internal/domain"
)

// StartRalph starts the ralph loop (spec §4.4 "Ralph loop"). It refuses if
// ultraqa is active for this session (invariant M3). Unless
// disableUltrawork is set, it simultaneously creates a linked ultrawork
// record marked linked_to_ralph=true.
func StartRalph(sid, root, prompt string, maxIterations int, prdMode, disableUltrawork bool) (*domain.RalphState, error) {
	var qa domain.UltraQAState
	if found, err := LoadSession(domain.ModeUltraQA, sid, root, &qa); err != nil {
		return nil, err
	} else if found && qa.Active {
		return nil, &domain.ModeConflictError{
			BlockedBy: domain.ModeUltraQA,
			Message:   "cannot start ralph: ultraqa is active for this session; cancel it first",
		}
	}

	state := &domain.RalphState{
		Frame:           domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		Iteration:       0,
		MaxIterations:   maxIterations,
		Prompt:          prompt,
		LinkedUltrawork: !disableUltrawork,
		PRDMode:         prdMode,
	}
	touch(&state.Frame)
	if err := SaveSession(domain.ModeRalph, sid, root, state); err != nil {
		return nil, err
	}

	if !disableUltrawork {
		uw := &domain.UltraworkState{
			Frame:          domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
			OriginalPrompt: prompt,
			LinkedToRalph:  true,
		}
		touch(&uw.Frame)
		if err := SaveSession(domain.ModeUltrawork, sid, root, uw); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// IncrementRalph performs an atomic read-modify-write bumping Iteration.
// The write itself is atomic (rename); a concurrent increment from another
// process may still be lost (spec §5: last-writer-wins on coarse-grained
// records), which is within the documented non-goals.
func IncrementRalph(sid, root string) (*domain.RalphState, error) {
	var state domain.RalphState
	found, err := LoadSession(domain.ModeRalph, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("modes: no active ralph state for session %s", sid)
	}
	state.Iteration++
	touch(&state.Frame)
	if err := SaveSession(domain.ModeRalph, sid, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelRalph removes the ralph record, and the linked ultrawork record too
// when one was created alongside it.
func CancelRalph(sid, root string) error {
	var state domain.RalphState
	found, err := LoadSession(domain.ModeRalph, sid, root, &state)
	if err != nil {
		return err
	}
	if found && state.LinkedUltrawork {
		if err := DeleteSession(domain.ModeUltrawork, sid, root); err != nil {
			return err
		}
	}
	return DeleteSession(domain.ModeRalph, sid, root)
}

// RalphComplete reports the PRD-mode completion rule: all stories pass.
func RalphComplete(prd *domain.PRD) bool {
	if prd == nil {
		return false
	}
	return prd.Complete()
}
