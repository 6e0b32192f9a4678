package main

import (
	"context"
	"fmt"
	"time"

	"github.com/omc/kernel/internal/checkpoint"
	ctxpkg "github.com/omc/kernel/internal/context"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/hookbus"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/notepad"
	"github.com/omc/kernel/internal/permission"
	"github.com/omc/kernel/internal/persistmode"
	"github.com/omc/kernel/internal/setup"
	"github.com/omc/kernel/internal/swarm"
)

// registerHandlers wires every event name to its handler (spec §4.5 step 2).
// Unregistered event names (there are none left in the §6.1 enum, but a
// future host addition would land here) fall through to hookbus's own
// Suppressed default, never an error.
func (a *app) registerHandlers(bus *hookbus.Bus) {
	bus.Register(domain.EventSessionStart, a.handleContextInjection)
	bus.Register(domain.EventSetup, a.handleSetup)
	bus.Register(domain.EventUserPromptSubmit, a.handleUserPromptSubmit)
	bus.Register(domain.EventPreToolUse, a.handlePreToolUse)
	bus.Register(domain.EventPostToolUse, a.handlePostToolUse)
	bus.Register(domain.EventPermission, a.handlePreToolUse) // same arbitration contract, spec §4.9
	bus.Register(domain.EventStop, a.handleStop)
	bus.Register(domain.EventPreCompact, a.handlePreCompact)
	bus.Register(domain.EventSubagentStart, a.handleSubagentStart)
	bus.Register(domain.EventSubagentStop, a.handleSubagentStop)
	bus.Register(domain.EventSessionEnd, a.handleSessionEnd)
}

// handleContextInjection runs the Context Injection Pipeline (spec §4.11) on
// SessionStart. UserPromptSubmit reuses the same assembly with the prompt
// text set so scope-matching and skill triggers can see it.
func (a *app) handleContextInjection(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	_ = ctxpkg.DetectAndSaveProjectMemory(a.root)
	out, err := a.pipeline.Assemble(ctx, ctxpkg.Input{
		SessionID:   a.sid,
		Prompt:      event.Prompt,
		ToolName:    event.ToolName,
		Rules:       loadRules(a.root),
		Skills:      loadSkills(a.root),
		ActivePRD:   loadActivePRD(a.root),
		ProgressLog: loadProgress(a.root),
	})
	if err != nil {
		return nil, err
	}
	return domain.WithContext(event.HookEventName, out), nil
}

// handleSetup dispatches the init/maintenance triggers (spec §4.6).
func (a *app) handleSetup(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	switch domain.SetupTrigger(event.Trigger) {
	case domain.TriggerInit:
		_ = setup.Init(a.root)
	case domain.TriggerMaintenance:
		setup.Maintenance(a.root, time.Now(), a.cfg.Watchdog.SwarmStaleClaimSeconds)
	}
	return domain.Allow(), nil
}

// handleUserPromptSubmit applies cancellation (spec §4.7 "Cancellation")
// and slash-command expansion (spec line 192) before assembling context, so
// a cancel keyword's Stop-suppressing state and a just-started mode's
// record are already settled by the time any injected PRD/progress section
// would have referenced them.
func (a *app) handleUserPromptSubmit(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	canceled, err := persistmode.HandleUserPromptCancel(a.sid, a.root, event.Prompt)
	if err != nil {
		return nil, err
	}

	slashMessage, handled, err := applySlashCommand(a.sid, a.root, event.Prompt)
	if err != nil {
		deps.Logger.Printf("slash command failed: %v", err)
	}

	out, err := a.pipeline.Assemble(ctx, ctxpkg.Input{
		SessionID:   a.sid,
		Prompt:      event.Prompt,
		ToolName:    event.ToolName,
		Rules:       loadRules(a.root),
		Skills:      loadSkills(a.root),
		ActivePRD:   loadActivePRD(a.root),
		ProgressLog: loadProgress(a.root),
	})
	if err != nil {
		return nil, err
	}

	verdict := domain.WithContext(event.HookEventName, out)
	switch {
	case canceled:
		verdict.SystemMessage = "Active mode cancelled; control returned to you."
	case handled && slashMessage != "":
		verdict.SystemMessage = slashMessage
	}
	return verdict, nil
}

// handlePreToolUse runs the Permission Arbiter (spec §4.9) for bash-like tool
// calls; non-bash tools pass through inside Arbitrate itself.
func (a *app) handlePreToolUse(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	command, _ := event.ToolInput["command"].(string)
	return permission.Arbitrate(event.ToolName, command, a.root)
}

// handlePostToolUse runs the remember-tag scraper, the project-memory
// learner, and the tool-error recorder (spec §4.5 point 2).
func (a *app) handlePostToolUse(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	if entries := notepad.ScrapeRememberTags(toolResponseText(event.ToolResponse)); len(entries) > 0 {
		if err := notepad.AppendWorkingMemory(a.root, entries, time.Now()); err != nil {
			deps.Logger.Printf("notepad append failed: %v", err)
		}
	}

	_ = ctxpkg.DetectAndSaveProjectMemory(a.root)

	if err := recordToolErrorIfAny(a.root, event.ToolName, event.ToolResponse); err != nil {
		deps.Logger.Printf("tool-error record failed: %v", err)
	}

	verdict := domain.Allow()
	if message, isError := toolErrorMessage(event.ToolResponse); isError {
		if exitMessage, err := a.recordUltraQAFailure(message); err != nil {
			deps.Logger.Printf("ultraqa recordFailure failed: %v", err)
		} else if exitMessage != "" {
			verdict.SystemMessage = exitMessage
		}
	}
	return verdict, nil
}

// recordUltraQAFailure feeds a tool failure into ultraqa's recordFailure
// (spec §4.4) when ultraqa is active for this session, ending the mode and
// returning a summary message on same-failure or max-cycles exit. It is a
// no-op (empty message, nil error) when ultraqa is not active.
func (a *app) recordUltraQAFailure(description string) (string, error) {
	var state domain.UltraQAState
	found, err := modes.LoadSession(domain.ModeUltraQA, a.sid, a.root, &state)
	if err != nil || !found || !state.Active {
		return "", err
	}

	outcome, err := modes.RecordFailure(a.sid, a.root, description, a.cfg.SameFailureThreshold)
	if err != nil || !outcome.ShouldExit {
		return "", err
	}

	result, err := modes.CompleteUltraQA(a.sid, a.root, outcome.Reason)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ultraqa stopped after %d cycles (%s), %d failures recorded.",
		result.Cycle, result.Reason, result.FailureCount), nil
}

// handleStop runs the Persistent-Mode Driver (spec §4.7).
func (a *app) handleStop(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	return persistmode.HandleStop(a.sid, a.root)
}

// handlePreCompact runs the PreCompact Checkpointer (spec §4.10).
func (a *app) handlePreCompact(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	result, err := checkpoint.Run(a.root, time.Now())
	if err != nil {
		return nil, err
	}
	return &domain.Verdict{Continue: true, SystemMessage: checkpoint.Summary(result)}, nil
}

// handleSubagentStart/Stop best-effort heartbeat a swarm claim when the
// subagent is a swarm worker (spec §4.5 point 2's "subagent tracker"); a
// subagent that is not a swarm worker simply finds no open store and the
// heartbeat is skipped silently.
func (a *app) handleSubagentStart(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	a.heartbeatSwarmWorker()
	return domain.Allow(), nil
}

func (a *app) handleSubagentStop(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	a.heartbeatSwarmWorker()
	return domain.Allow(), nil
}

func (a *app) heartbeatSwarmWorker() {
	active, err := modes.IsModeActive(domain.ModeSwarm, a.root)
	if err != nil || !active {
		return
	}
	store, err := swarm.OpenExisting(a.root)
	if err != nil {
		return
	}
	defer store.Close()
	_ = store.Heartbeat(a.sid)
}

// handleSessionEnd has no dedicated contract in spec §4.5's dispatch list;
// it allows unconditionally, matching the driver's own never-block-host
// default for events with no specific handler.
func (a *app) handleSessionEnd(ctx context.Context, event *domain.Event, deps *hookbus.Deps) (*domain.Verdict, error) {
	return domain.Allow(), nil
}
