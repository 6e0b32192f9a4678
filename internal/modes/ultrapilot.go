package modes

import (
	"fmt"

	"github.com/omc/kernel/internal/domain"
)

// ultrapilotTransitions is the phase machine for decompose -> partition ->
// execute (parallel) -> integrate -> validate (spec §4.4 "Ultrapilot").
// Per §9's open question, the pauseAfterDecomposition interaction with the
// stop-hook loop is omitted here: decompose always advances straight to
// partition once a decomposition string is recorded.
var ultrapilotTransitions = map[domain.UltrapilotPhase][]domain.UltrapilotPhase{
	domain.UPDecompose: {domain.UPPartition},
	domain.UPPartition: {domain.UPExecute},
	domain.UPExecute:   {domain.UPIntegrate},
	domain.UPIntegrate: {domain.UPValidate, domain.UPExecute}, // validate failure can re-enter execute
}

// StartUltrapilot begins the decompose phase.
func StartUltrapilot(sid, root, decomposition string) (*domain.UltrapilotState, error) {
	state := &domain.UltrapilotState{
		Frame:   domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		Phase:   domain.UPDecompose,
		Workers: map[string]domain.WorkerState{},
	}
	if decomposition != "" {
		state.Decomposition = decomposition
	}
	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeUltrapilot, root, state); err != nil {
		return nil, err
	}
	return state, nil
}

// AssignFiles records file ownership for a worker partition, detecting
// overlaps against every other worker's file set and recording a
// FileConflict for each path claimed by more than one worker.
func AssignFiles(sid, root, workerID string, files []string) (*domain.UltrapilotState, error) {
	var state domain.UltrapilotState
	found, err := LoadForSession(domain.ModeUltrapilot, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found || !state.Active {
		return nil, fmt.Errorf("modes: no active ultrapilot state for session %s", sid)
	}
	if state.Workers == nil {
		state.Workers = map[string]domain.WorkerState{}
	}
	state.Workers[workerID] = domain.WorkerState{ID: workerID, Files: files, Status: "pending"}

	owners := map[string][]string{}
	for id, w := range state.Workers {
		for _, f := range w.Files {
			owners[f] = append(owners[f], id)
		}
	}
	state.Conflicts = state.Conflicts[:0]
	for path, ids := range owners {
		if len(ids) > 1 {
			state.Conflicts = append(state.Conflicts, domain.FileConflict{Path: path, Workers: ids})
		}
	}

	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeUltrapilot, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// TransitionUltrapilot moves the pipeline to next, validating the table and
// bumping ValidationAttempts when entering validate.
func TransitionUltrapilot(sid, root string, next domain.UltrapilotPhase) (*domain.UltrapilotState, error) {
	var state domain.UltrapilotState
	found, err := LoadForSession(domain.ModeUltrapilot, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found || !state.Active {
		return nil, fmt.Errorf("modes: no active ultrapilot state for session %s", sid)
	}

	allowed := ultrapilotTransitions[state.Phase]
	ok := false
	for _, p := range allowed {
		if p == next {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("modes: ultrapilot cannot transition %s -> %s", state.Phase, next)
	}

	if next == domain.UPValidate {
		state.ValidationAttempts++
	}
	state.Phase = next
	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeUltrapilot, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelUltrapilot removes the ultrapilot record.
func CancelUltrapilot(root string) error {
	return DeleteGlobal(domain.ModeUltrapilot, root)
}
