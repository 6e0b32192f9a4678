// Package checkpoint implements the PreCompact Checkpointer (spec §4.10):
// on PreCompact it snapshots every active exclusive mode's compact view,
// concatenates wisdom documents out of the notepad tree, and writes both to
// .omc/state/checkpoints/ so the summary survives the host's context
// compaction.
package checkpoint

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/pathguard"
)

// wisdomFilenames is the set matched while walking .omc/notepads/** (spec
// §4.10), mirroring the teacher's ShouldIndex extension/name filter in
// internal/knowledge/parser.go.
var wisdomFilenames = map[string]bool{
	"learnings.md": true,
	"decisions.md": true,
	"issues.md":    true,
	"problems.md":  true,
}

// recentJobWindow bounds the "recent" jobs.db query to the last 5 minutes
// (spec §4.10).
const recentJobWindow = 5 * time.Minute

// ModeSnapshot is the compact view extracted for one active exclusive mode.
type ModeSnapshot struct {
	Mode      domain.ModeName `json:"mode"`
	Phase     string          `json:"phase,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	TasksDone int             `json:"tasks_done,omitempty"`
	TasksTotal int            `json:"tasks_total,omitempty"`
	SessionID string          `json:"session_id"`
}

// JobSummary is one row pulled best-effort from an optional jobs.db.
type JobSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Snapshot is the full JSON document written to checkpoint-<ISO>.json.
type Snapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Modes   []ModeSnapshot `json:"modes"`
	Jobs    []JobSummary   `json:"jobs,omitempty"`
}

// Result is what Run returns: the verdict text plus the paths written, for
// callers that want to log or test against them.
type Result struct {
	CheckpointPath string
	WisdomPath     string // empty when no wisdom content was found
	Snapshot       Snapshot
}

// Run executes the full PreCompact algorithm against root and returns the
// paths written plus a formatted summary suitable for SystemMessage.
func Run(root string, now time.Time) (Result, error) {
	snap := Snapshot{TakenAt: now}

	for _, mode := range domain.ExclusiveModes {
		active, err := modes.IsModeActive(mode, root)
		if err != nil {
			return Result{}, err
		}
		if !active {
			continue
		}
		ms, err := extractSnapshot(mode, root)
		if err != nil {
			return Result{}, err
		}
		snap.Modes = append(snap.Modes, ms)
	}

	snap.Jobs = queryRecentJobs(root, now)

	iso := now.UTC().Format("20060102T150405Z")
	checkpointPath, err := pathguard.ResolveOmc(filepath.Join("state", "checkpoints", fmt.Sprintf("checkpoint-%s.json", iso)), root)
	if err != nil {
		return Result{}, err
	}
	if err := atomicstore.WriteJSON(checkpointPath, snap); err != nil {
		return Result{}, err
	}

	wisdom := concatenateWisdom(root)
	var wisdomPath string
	if wisdom != "" {
		wisdomPath, err = pathguard.ResolveOmc(filepath.Join("state", "checkpoints", fmt.Sprintf("wisdom-%s.md", iso)), root)
		if err != nil {
			return Result{}, err
		}
		if err := atomicstore.WriteFile(wisdomPath, []byte(wisdom), 0o600); err != nil {
			return Result{}, err
		}
	}

	return Result{CheckpointPath: checkpointPath, WisdomPath: wisdomPath, Snapshot: snap}, nil
}

// Summary formats the verdict systemMessage for the host (spec §4.10:
// "continue: true, systemMessage: <formatted summary>").
func Summary(r Result) string {
	if len(r.Snapshot.Modes) == 0 {
		return "checkpoint: no active mode to preserve across compaction"
	}
	var b strings.Builder
	b.WriteString("checkpoint saved before compaction:\n")
	for _, m := range r.Snapshot.Modes {
		fmt.Fprintf(&b, "- %s: phase=%s iteration=%d\n", m.Mode, m.Phase, m.Iteration)
	}
	return strings.TrimRight(b.String(), "\n")
}

func extractSnapshot(mode domain.ModeName, root string) (ModeSnapshot, error) {
	switch mode {
	case domain.ModeAutopilot:
		var s domain.AutopilotState
		found, err := modes.LoadGlobal(mode, root, &s)
		if err != nil || !found {
			return ModeSnapshot{}, err
		}
		return ModeSnapshot{Mode: mode, Phase: string(s.Phase), SessionID: s.SessionID}, nil
	case domain.ModeTeamPipeline:
		var s domain.TeamPipelineState
		found, err := modes.LoadGlobal(mode, root, &s)
		if err != nil || !found {
			return ModeSnapshot{}, err
		}
		return ModeSnapshot{Mode: mode, Phase: string(s.Phase), TasksDone: s.TasksDone, TasksTotal: s.TasksTotal, SessionID: s.SessionID}, nil
	case domain.ModeUltrapilot:
		var s domain.UltrapilotState
		found, err := modes.LoadGlobal(mode, root, &s)
		if err != nil || !found {
			return ModeSnapshot{}, err
		}
		return ModeSnapshot{Mode: mode, Phase: string(s.Phase), SessionID: s.SessionID}, nil
	case domain.ModeSwarm:
		// Swarm carries no JSON frame (marker-only mode); record presence only.
		return ModeSnapshot{Mode: mode}, nil
	default:
		return ModeSnapshot{Mode: mode}, nil
	}
}

// concatenateWisdom walks .omc/notepads/** looking for the wisdom filenames
// and concatenates their contents, matching the teacher's
// filepath.Walk-plus-best-effort-per-file idiom in internal/knowledge/indexer.go.
func concatenateWisdom(root string) string {
	notepadsRoot, err := pathguard.ResolveOmc("notepads", root)
	if err != nil {
		return ""
	}
	var sections []string
	_ = filepath.WalkDir(notepadsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best effort; skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if !wisdomFilenames[filepath.Base(path)] {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(notepadsRoot, path)
		if relErr != nil {
			rel = path
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", rel, strings.TrimSpace(string(content))))
		return nil
	})
	if len(sections) == 0 {
		return ""
	}
	sort.Strings(sections)
	return strings.Join(sections, "\n\n")
}

// queryRecentJobs best-effort-queries an optional .omc/state/jobs.db for
// jobs active or completed within the last 5 minutes (spec §4.10). Any
// failure to open or query the database is swallowed: jobs.db is entirely
// optional infrastructure the checkpointer never requires.
func queryRecentJobs(root string, now time.Time) []JobSummary {
	path, err := pathguard.ResolveOmc("state/jobs.db", root)
	if err != nil {
		return nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=2000&mode=ro")
	if err != nil {
		return nil
	}
	defer db.Close()

	cutoff := now.Add(-recentJobWindow).UnixMilli()
	rows, err := db.Query("SELECT id, status FROM jobs WHERE status IN ('active','running') OR updated_at >= ?", cutoff)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var jobs []JobSummary
	for rows.Next() {
		var j JobSummary
		if err := rows.Scan(&j.ID, &j.Status); err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}
