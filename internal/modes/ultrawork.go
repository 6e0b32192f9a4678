package modes

import "github.com/omc/kernel/internal/domain"

// ActivateUltrawork starts (or idempotently no-ops on) the ultrawork mode
// (spec §4.4 "Ultrawork"). Re-activation while already active for this
// session leaves the record unchanged (invariant R2).
func ActivateUltrawork(sid, root, originalPrompt string) (*domain.UltraworkState, error) {
	var existing domain.UltraworkState
	found, err := LoadSession(domain.ModeUltrawork, sid, root, &existing)
	if err != nil {
		return nil, err
	}
	if found && existing.Active {
		return &existing, nil
	}
	state := &domain.UltraworkState{
		Frame:          domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		OriginalPrompt: originalPrompt,
	}
	touch(&state.Frame)
	if err := SaveSession(domain.ModeUltrawork, sid, root, state); err != nil {
		return nil, err
	}
	return state, nil
}

// ReinforceUltrawork bumps ReinforcementCount on an active record.
func ReinforceUltrawork(sid, root string) (*domain.UltraworkState, error) {
	var state domain.UltraworkState
	found, err := LoadSession(domain.ModeUltrawork, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found || !state.Active {
		return nil, nil
	}
	state.ReinforcementCount++
	touch(&state.Frame)
	if err := SaveSession(domain.ModeUltrawork, sid, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelUltrawork removes sid's ultrawork record unconditionally (used both
// standalone and as part of CancelRalph for linked records).
func CancelUltrawork(sid, root string) error {
	return DeleteSession(domain.ModeUltrawork, sid, root)
}
