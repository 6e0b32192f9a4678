package modes

import (
	"regexp"
	"strings"

	"github.com/omc/kernel/internal/domain"
)

// DefaultSameFailureThreshold is SAME_FAILURE_THRESHOLD from spec §4.4.
const DefaultSameFailureThreshold = 3

var (
	reTimestamp = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	reLineCol   = regexp.MustCompile(`:\d+:\d+\b`)
	reDuration  = regexp.MustCompile(`\b\d+(\.\d+)?ms\b`)
	reSpace     = regexp.MustCompile(`\s+`)
)

// normalizeFailure strips timestamps, :line:col, Nms durations, collapses
// whitespace and lowercases — so two reports of the same failure with
// different timing/line noise compare equal (spec §4.4 recordFailure step 2).
func normalizeFailure(s string) string {
	s = reTimestamp.ReplaceAllString(s, "")
	s = reLineCol.ReplaceAllString(s, "")
	s = reDuration.ReplaceAllString(s, "")
	s = reSpace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// StartUltraQA starts ultraqa. It refuses if ralph is active (invariant M3).
func StartUltraQA(sid, root string, goalType domain.UltraQAGoalType, goalPattern string, maxCycles int) (*domain.UltraQAState, error) {
	var ralph domain.RalphState
	if found, err := LoadSession(domain.ModeRalph, sid, root, &ralph); err != nil {
		return nil, err
	} else if found && ralph.Active {
		return nil, &domain.ModeConflictError{
			BlockedBy: domain.ModeRalph,
			Message:   "cannot start ultraqa: ralph is active for this session; cancel it first",
		}
	}

	state := &domain.UltraQAState{
		Frame:       domain.Frame{Active: true, SessionID: sid, ProjectPath: root},
		GoalType:    goalType,
		GoalPattern: goalPattern,
		MaxCycles:   maxCycles,
	}
	touch(&state.Frame)
	if err := SaveSession(domain.ModeUltraQA, sid, root, state); err != nil {
		return nil, err
	}
	return state, nil
}

// RecordFailureOutcome is what recordFailure returns: whether the caller
// should exit the loop, and why.
type RecordFailureOutcome struct {
	ShouldExit bool
	Reason     domain.UltraQAExitReason
	State      *domain.UltraQAState
}

// RecordFailure appends description to failures[], checks the
// same-failure/max-cycles exit conditions, and persists the updated state
// (spec §4.4 recordFailure). sameFailureThreshold<=0 uses the spec default.
func RecordFailure(sid, root, description string, sameFailureThreshold int) (RecordFailureOutcome, error) {
	if sameFailureThreshold <= 0 {
		sameFailureThreshold = DefaultSameFailureThreshold
	}
	var state domain.UltraQAState
	found, err := LoadSession(domain.ModeUltraQA, sid, root, &state)
	if err != nil {
		return RecordFailureOutcome{}, err
	}
	if !found {
		return RecordFailureOutcome{}, nil
	}

	state.Failures = append(state.Failures, domain.UltraQAFailure{
		Description: description,
		Normalized:  normalizeFailure(description),
	})

	outcome := RecordFailureOutcome{State: &state}
	if n := len(state.Failures); n >= sameFailureThreshold {
		last := state.Failures[n-sameFailureThreshold:]
		allSame := true
		for i := 1; i < len(last); i++ {
			if last[i].Normalized != last[0].Normalized {
				allSame = false
				break
			}
		}
		if allSame {
			outcome.ShouldExit = true
			outcome.Reason = domain.ExitSameFailure
		}
	}

	if !outcome.ShouldExit {
		state.Cycle++
		if state.Cycle > state.MaxCycles {
			outcome.ShouldExit = true
			outcome.Reason = domain.ExitMaxCycles
		}
	}

	touch(&state.Frame)
	if err := SaveSession(domain.ModeUltraQA, sid, root, &state); err != nil {
		return RecordFailureOutcome{}, err
	}
	outcome.State = &state
	return outcome, nil
}

// CompleteUltraQA clears state and returns a typed result (complete, stop,
// and cancel all funnel through here with differing reasons supplied by the
// caller).
func CompleteUltraQA(sid, root string, reason domain.UltraQAExitReason) (domain.UltraQAResult, error) {
	var state domain.UltraQAState
	found, err := LoadSession(domain.ModeUltraQA, sid, root, &state)
	if err != nil {
		return domain.UltraQAResult{}, err
	}
	if err := DeleteSession(domain.ModeUltraQA, sid, root); err != nil {
		return domain.UltraQAResult{}, err
	}
	if !found {
		return domain.UltraQAResult{Reason: reason}, nil
	}
	return domain.UltraQAResult{
		Reason:       reason,
		Cycle:        state.Cycle,
		FailureCount: len(state.Failures),
	}, nil
}
