// Package domain holds the kernel's core entities and aggregate records.
// It has no dependencies on other internal packages.
package domain

import "time"

// ModeName identifies one of the kernel's execution modes.
type ModeName string

const (
	ModeAutopilot    ModeName = "autopilot"
	ModeUltrapilot   ModeName = "ultrapilot"
	ModeRalph        ModeName = "ralph"
	ModeUltrawork    ModeName = "ultrawork"
	ModeUltraQA      ModeName = "ultraqa"
	ModeSwarm        ModeName = "swarm"
	ModeTeamPipeline ModeName = "team-pipeline"
	ModeEcomode      ModeName = "ecomode"
	ModePipeline     ModeName = "pipeline"
)

// ExclusiveModes is the set participating in invariant M1: at most one of
// these may be active=true at a time within one worktree.
var ExclusiveModes = []ModeName{ModeAutopilot, ModeUltrapilot, ModeSwarm, ModeTeamPipeline}

// Frame is the common header every mode state record carries.
type Frame struct {
	Active      bool      `json:"active"`
	SessionID   string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetSessionID lets any mode state record that embeds Frame satisfy
// Stateful, so generic readers can enforce invariant M2 without a type
// switch per mode.
func (f Frame) GetSessionID() string { return f.SessionID }

// IsActive reports the Frame's active flag.
func (f Frame) IsActive() bool { return f.Active }

// Stateful is satisfied by every mode state record (they all embed Frame).
type Stateful interface {
	GetSessionID() string
	IsActive() bool
}

// RalphState is the ralph-loop mode record.
type RalphState struct {
	Frame
	Iteration       int    `json:"iteration"`
	MaxIterations   int    `json:"max_iterations"`
	Prompt          string `json:"prompt"`
	LinkedUltrawork bool   `json:"linked_ultrawork"`
	PRDMode         bool   `json:"prd_mode"`
	CurrentStoryID  string `json:"current_story_id,omitempty"`
}

// UltraworkState is the ultrawork mode record.
type UltraworkState struct {
	Frame
	ReinforcementCount int    `json:"reinforcement_count"`
	OriginalPrompt     string `json:"original_prompt"`
	LinkedToRalph      bool   `json:"linked_to_ralph"`
}

// UltraQAGoalType is the closed set of goals ultraqa can chase.
type UltraQAGoalType string

const (
	GoalTests      UltraQAGoalType = "tests"
	GoalBuild      UltraQAGoalType = "build"
	GoalLint       UltraQAGoalType = "lint"
	GoalTypecheck  UltraQAGoalType = "typecheck"
	GoalCustom     UltraQAGoalType = "custom"
)

// UltraQAFailure is one recorded failure observation.
type UltraQAFailure struct {
	Description string    `json:"description"`
	Normalized  string    `json:"normalized"`
	At          time.Time `json:"at"`
}

// UltraQAState is the ultraqa mode record.
type UltraQAState struct {
	Frame
	GoalType    UltraQAGoalType  `json:"goal_type"`
	GoalPattern string           `json:"goal_pattern,omitempty"`
	Cycle       int              `json:"cycle"`
	MaxCycles   int              `json:"max_cycles"`
	Failures    []UltraQAFailure `json:"failures"`
}

// UltraQAExitReason is the closed set of reasons recordFailure can exit with.
type UltraQAExitReason string

const (
	ExitNone         UltraQAExitReason = ""
	ExitSameFailure  UltraQAExitReason = "same_failure"
	ExitMaxCycles    UltraQAExitReason = "max_cycles"
)

// UltraQAResult is returned by complete/stop/cancel.
type UltraQAResult struct {
	Reason      UltraQAExitReason `json:"reason"`
	Cycle       int               `json:"cycle"`
	FailureCount int              `json:"failure_count"`
}

// AutopilotPhase is the closed phase set for autopilot's unidirectional machine.
type AutopilotPhase string

const (
	PhaseExpansion  AutopilotPhase = "expansion"
	PhasePlanning   AutopilotPhase = "planning"
	PhaseExecution  AutopilotPhase = "execution"
	PhaseQA         AutopilotPhase = "qa"
	PhaseValidation AutopilotPhase = "validation"
	PhaseComplete   AutopilotPhase = "complete"
	PhaseFailed     AutopilotPhase = "failed"
)

// AutopilotSubRecord holds the bookkeeping owned by exactly one phase.
type AutopilotSubRecord struct {
	EnteredAt time.Time `json:"entered_at"`
	Notes     string    `json:"notes,omitempty"`
}

// AutopilotState is the autopilot mode record.
type AutopilotState struct {
	Frame
	Phase              AutopilotPhase                `json:"phase"`
	AgentCount         int                            `json:"agent_count"` // monotonically increasing
	MaxValidationRounds int                           `json:"max_validation_rounds"`
	ValidationRounds   int                            `json:"validation_rounds"`
	Phases             map[AutopilotPhase]AutopilotSubRecord `json:"phases"`
}

// TeamPhase is the closed phase set for the team-pipeline machine.
type TeamPhase string

const (
	TeamPlan      TeamPhase = "team-plan"
	TeamPRD       TeamPhase = "team-prd"
	TeamExec      TeamPhase = "team-exec"
	TeamVerify    TeamPhase = "team-verify"
	TeamFix       TeamPhase = "team-fix"
	TeamComplete  TeamPhase = "complete"
	TeamFailed    TeamPhase = "failed"
	TeamCancelled TeamPhase = "cancelled"
)

// FixLoopState tracks the team-fix -> team-exec retry loop.
type FixLoopState struct {
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"` // default 3
}

// TeamPipelineState is the team-pipeline mode record.
type TeamPipelineState struct {
	Frame
	Phase      TeamPhase    `json:"phase"`
	PlanPath   string       `json:"plan_path,omitempty"`
	PRDPath    string       `json:"prd_path,omitempty"`
	TasksTotal int          `json:"tasks_total"`
	TasksDone  int          `json:"tasks_done"`
	FixLoop    FixLoopState `json:"fix_loop"`
	FailReason string       `json:"fail_reason,omitempty"`
}

// WorkerState is one ultrapilot worker's partition/execution state.
type WorkerState struct {
	ID        string    `json:"id"`
	Files     []string  `json:"files"`
	Status    string    `json:"status"` // pending, running, done, failed
	StartedAt time.Time `json:"started_at,omitempty"`
}

// UltrapilotPhase is the closed phase set for ultrapilot.
type UltrapilotPhase string

const (
	UPDecompose UltrapilotPhase = "decompose"
	UPPartition UltrapilotPhase = "partition"
	UPExecute   UltrapilotPhase = "execute"
	UPIntegrate UltrapilotPhase = "integrate"
	UPValidate  UltrapilotPhase = "validate"
)

// FileConflict records two workers that claimed overlapping files.
type FileConflict struct {
	Path    string   `json:"path"`
	Workers []string `json:"workers"`
}

// UltrapilotState is the ultrapilot mode record.
type UltrapilotState struct {
	Frame
	Phase              UltrapilotPhase        `json:"phase"`
	Decomposition      string                 `json:"decomposition,omitempty"`
	Workers            map[string]WorkerState `json:"workers"`
	SharedFiles        []string               `json:"shared_files,omitempty"`
	Conflicts          []FileConflict         `json:"conflicts"`
	ValidationAttempts int                    `json:"validation_attempts"`
}
