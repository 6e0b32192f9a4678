package modes

import (
	"fmt"

	"github.com/omc/kernel/internal/domain"
)

// DefaultMaxFixAttempts is the fix-loop bound from spec §4.4 "Team
// pipeline" (default 3).
const DefaultMaxFixAttempts = 3

// teamTransitions is the table-driven allowed-transition set (spec §4.4).
var teamTransitions = map[domain.TeamPhase][]domain.TeamPhase{
	domain.TeamPlan:   {domain.TeamPRD},
	domain.TeamPRD:    {domain.TeamExec},
	domain.TeamExec:   {domain.TeamVerify},
	domain.TeamVerify: {domain.TeamFix, domain.TeamComplete, domain.TeamFailed, domain.TeamCancelled},
	domain.TeamFix:    {domain.TeamExec, domain.TeamFailed},
}

// teamGuard blocks a transition when required artifacts are missing (spec
// §4.4: "team-exec requires a plan or PRD path; team-verify requires all
// tasks completed").
func teamGuard(state *domain.TeamPipelineState, next domain.TeamPhase) error {
	switch next {
	case domain.TeamExec:
		if state.PlanPath == "" && state.PRDPath == "" {
			return fmt.Errorf("modes: team-exec requires a plan or PRD path")
		}
	case domain.TeamVerify:
		if state.TasksDone < state.TasksTotal {
			return fmt.Errorf("modes: team-verify requires all tasks completed (%d/%d done)", state.TasksDone, state.TasksTotal)
		}
	}
	return nil
}

// StartTeamPipeline begins the team-plan phase.
func StartTeamPipeline(sid, root string) (*domain.TeamPipelineState, error) {
	state := &domain.TeamPipelineState{
		Frame:   domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		Phase:   domain.TeamPlan,
		FixLoop: domain.FixLoopState{MaxAttempts: DefaultMaxFixAttempts},
	}
	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeTeamPipeline, root, state); err != nil {
		return nil, err
	}
	return state, nil
}

// TransitionTeamPipeline moves the pipeline from its current phase to next,
// enforcing the transition table and artifact guards. Entering team-fix from
// team-verify increments the fix-loop attempt counter and auto-fails with
// reason "fix-loop-max-attempts-exceeded" once it exceeds MaxAttempts.
func TransitionTeamPipeline(sid, root string, next domain.TeamPhase) (*domain.TeamPipelineState, error) {
	var state domain.TeamPipelineState
	found, err := LoadForSession(domain.ModeTeamPipeline, sid, root, &state)
	if err != nil {
		return nil, err
	}
	if !found || !state.Active {
		return nil, fmt.Errorf("modes: no active team-pipeline state for session %s", sid)
	}

	allowed := teamTransitions[state.Phase]
	ok := false
	for _, p := range allowed {
		if p == next {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("modes: team-pipeline cannot transition %s -> %s", state.Phase, next)
	}

	if next == domain.TeamFix {
		if state.FixLoop.MaxAttempts <= 0 {
			state.FixLoop.MaxAttempts = DefaultMaxFixAttempts
		}
		state.FixLoop.Attempt++
		if state.FixLoop.Attempt > state.FixLoop.MaxAttempts {
			next = domain.TeamFailed
			state.FailReason = "fix-loop-max-attempts-exceeded"
		}
	} else if err := teamGuard(&state, next); err != nil {
		return nil, err
	}

	state.Phase = next
	if next == domain.TeamComplete || next == domain.TeamFailed || next == domain.TeamCancelled {
		state.Active = false
	}
	touch(&state.Frame)
	if err := SaveGlobal(domain.ModeTeamPipeline, root, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelTeamPipeline removes the team-pipeline record.
func CancelTeamPipeline(root string) error {
	return DeleteGlobal(domain.ModeTeamPipeline, root)
}
