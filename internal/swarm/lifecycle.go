package swarm

import (
	"fmt"

	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/pathguard"
)

// DBRelPath is swarm.db's location under .omc/state/, alongside sessions/
// and checkpoints/ (spec §3's data model). ResolveState rejects ModeSwarm
// because that helper builds a "<mode>-state.json" filename for the
// per-mode JSON stores, and swarm keeps its own SQLite file instead — that
// says nothing about which directory the file lives in, so it is resolved
// here via the general-purpose ResolveOmc instead. Exported so setup.go's
// maintenance sweep resolves the same path rather than duplicating it.
const DBRelPath = "state/swarm.db"

// StartSwarm starts a new swarm coordination session: checks invariant M1
// via CanStartMode, opens (creating) swarm.db, seeds the session row and
// initial tasks, and writes the swarm mode marker.
func StartSwarm(root, sessionID string, agentCount int, tasks []TaskInput) (*Store, error) {
	check, err := modes.CanStartMode(domain.ModeSwarm, root)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, fmt.Errorf("swarm: %s", check.Message)
	}

	path, err := pathguard.ResolveOmc(DBRelPath, root)
	if err != nil {
		return nil, err
	}
	store, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSession(sessionID, agentCount); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.AddTasks(tasks); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := modes.CreateModeMarker(domain.ModeSwarm, root); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// OpenExisting opens the swarm database for an already-started session
// without touching the mode marker or session row. Used by worker-facing
// operations (claim/heartbeat/complete/fail) that run in their own process.
func OpenExisting(root string) (*Store, error) {
	path, err := pathguard.ResolveOmc(DBRelPath, root)
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// StopSwarm removes the swarm mode marker, ending M1 exclusivity, without
// deleting swarm.db (so results remain inspectable after the fact).
func StopSwarm(root string) error {
	return modes.RemoveModeMarker(domain.ModeSwarm, root)
}
