// Package persistmode implements the Persistent-Mode Driver (spec §4.7):
// on every Stop event, decide whether to deny the stop and re-prompt the
// host so a running mode keeps iterating, or let the host return control to
// the user.
package persistmode

import (
	"fmt"
	"strings"
	"time"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/pathguard"
)

// toolErrorStaleAfter is the age past which last-tool-error.json is ignored
// rather than injected (spec §4.7 step 3).
const toolErrorStaleAfter = 60 * time.Second

// toolErrorRetryCeiling is the retry_count at or above which guidance
// switches from "retry with corrected params" to "alternative approach
// needed" (spec §4.7 step 3).
const toolErrorRetryCeiling = 5

// cancelKeywords is the set of UserPromptSubmit contents that clear active
// mode state and let the next Stop return control (spec §4.7 "Cancellation").
var cancelKeywords = []string{"stop", "cancel", "abort", "/cancel"}

// ActiveMode is which persistent mode (if any) is currently driving Stop
// suppression for a session, in the priority order the driver checks them:
// ralph and ultraqa are mutually exclusive (invariant M3) so at most one of
// the two is ever active; ultrawork can run alongside either and is checked
// last since it has no iteration ceiling of its own.
type ActiveMode struct {
	Name    domain.ModeName
	Ralph   *domain.RalphState
	UltraQA *domain.UltraQAState
	Work    *domain.UltraworkState
}

// resolveActiveMode finds the persistent mode driving sid's Stop loop, if
// any. Returns found=false when nothing persistent is active.
func resolveActiveMode(sid, root string) (ActiveMode, bool, error) {
	var ralph domain.RalphState
	if found, err := modes.LoadSession(domain.ModeRalph, sid, root, &ralph); err != nil {
		return ActiveMode{}, false, err
	} else if found && ralph.Active {
		return ActiveMode{Name: domain.ModeRalph, Ralph: &ralph}, true, nil
	}

	var qa domain.UltraQAState
	if found, err := modes.LoadSession(domain.ModeUltraQA, sid, root, &qa); err != nil {
		return ActiveMode{}, false, err
	} else if found && qa.Active {
		return ActiveMode{Name: domain.ModeUltraQA, UltraQA: &qa}, true, nil
	}

	var work domain.UltraworkState
	if found, err := modes.LoadSession(domain.ModeUltrawork, sid, root, &work); err != nil {
		return ActiveMode{}, false, err
	} else if found && work.Active {
		return ActiveMode{Name: domain.ModeUltrawork, Work: &work}, true, nil
	}

	return ActiveMode{}, false, nil
}

// HandleStop runs the full algorithm from spec §4.7 and returns the verdict
// to emit. A verdict is always returned; errors are only for genuine I/O
// failure and the caller (hookbus) downgrades those to Suppressed anyway.
func HandleStop(sid, root string) (*domain.Verdict, error) {
	active, found, err := resolveActiveMode(sid, root)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.Allow(), nil
	}

	iter, max, err := advanceIteration(sid, root, active)
	if err != nil {
		return nil, err
	}
	if max > 0 && iter > max {
		if err := terminate(sid, root, active); err != nil {
			return nil, err
		}
		return &domain.Verdict{
			Continue:      true,
			SystemMessage: fmt.Sprintf("[%s] reached max iterations (%d); stopping.", active.Name, max),
		}, nil
	}

	message, err := buildContinuation(root, active, iter, max)
	if err != nil {
		return nil, err
	}
	return domain.DenyStop(message), nil
}

// advanceIteration bumps the relevant counter for active and returns the new
// (iteration, max) pair. Ultrawork has no ceiling: max is reported as 0 and
// the reinforcement count is bumped but never compared against it.
func advanceIteration(sid, root string, active ActiveMode) (iteration, max int, err error) {
	switch active.Name {
	case domain.ModeRalph:
		state, err := modes.IncrementRalph(sid, root)
		if err != nil {
			return 0, 0, err
		}
		return state.Iteration, state.MaxIterations, nil
	case domain.ModeUltraQA:
		// Stop-driven iteration for ultraqa is the cycle counter; recordFailure
		// already bumps it on the handler side, so here the driver only reads
		// the current value back (no separate Stop-side bump).
		return active.UltraQA.Cycle, active.UltraQA.MaxCycles, nil
	case domain.ModeUltrawork:
		state, err := modes.ReinforceUltrawork(sid, root)
		if err != nil {
			return 0, 0, err
		}
		if state == nil {
			return 0, 0, nil
		}
		return state.ReinforcementCount, 0, nil
	default:
		return 0, 0, nil
	}
}

// terminate clears the active mode's state once it has exceeded its bound.
func terminate(sid, root string, active ActiveMode) error {
	switch active.Name {
	case domain.ModeRalph:
		return modes.CancelRalph(sid, root)
	case domain.ModeUltraQA:
		_, err := modes.CompleteUltraQA(sid, root, domain.ExitMaxCycles)
		return err
	case domain.ModeUltrawork:
		return modes.CancelUltrawork(sid, root)
	}
	return nil
}

// buildContinuation assembles the deny-stop message: base progress line,
// optionally prefixed by tool-error retry guidance.
func buildContinuation(root string, active ActiveMode, iter, max int) (string, error) {
	base := fmt.Sprintf("[%s #%d/%d] Mode active. Continue working.", strings.ToUpper(string(active.Name)), iter, max)

	guidance, err := toolErrorGuidance(root)
	if err != nil {
		return "", err
	}
	if guidance == "" {
		return base, nil
	}
	return guidance + "\n" + base, nil
}

// toolErrorGuidance reads .omc/state/last-tool-error.json, builds retry
// guidance text if it is fresh enough, and clears the file either way (spec
// §4.7 step 3: "Clear the error file after reading").
func toolErrorGuidance(root string) (string, error) {
	path, err := pathguard.ResolveOmc("state/last-tool-error.json", root)
	if err != nil {
		return "", err
	}
	var last domain.LastToolError
	found, err := atomicstore.SafeReadJSON(path, &last)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	defer atomicstore.Remove(path)

	if time.Since(last.At) > toolErrorStaleAfter {
		return "", nil
	}
	if last.RetryCount < toolErrorRetryCeiling {
		return fmt.Sprintf("Previous tool call %q failed: %s. Retry with corrected parameters.", last.ToolName, last.Message), nil
	}
	return fmt.Sprintf("Previous tool call %q has failed %d times: %s. An alternative approach is needed; do not repeat it.", last.ToolName, last.RetryCount, last.Message), nil
}

// IsCancelKeyword reports whether prompt (case-insensitively, trimmed)
// matches one of the recognized cancellation keywords (spec §4.7
// "Cancellation").
func IsCancelKeyword(prompt string) bool {
	p := strings.ToLower(strings.TrimSpace(prompt))
	for _, kw := range cancelKeywords {
		if p == kw {
			return true
		}
	}
	return false
}

// HandleUserPromptCancel clears every persistent mode's state for sid when
// prompt is a cancel keyword, so the next Stop allows control to return to
// the user. Returns whether a cancellation was applied.
func HandleUserPromptCancel(sid, root, prompt string) (bool, error) {
	if !IsCancelKeyword(prompt) {
		return false, nil
	}
	active, found, err := resolveActiveMode(sid, root)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return true, terminate(sid, root, active)
}
