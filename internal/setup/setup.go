// Package setup implements the Setup handler (spec §4.6): the `init`
// trigger idempotently creates the standard .omc/ subtree and validates
// .omc-config.json, and the `maintenance` trigger prunes aged state.
package setup

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omc/kernel/internal/config"
	"github.com/omc/kernel/internal/pathguard"
	"github.com/omc/kernel/internal/swarm"
)

// subtreeDirs is the standard .omc/ layout (spec §3), created idempotently
// by the init trigger.
var subtreeDirs = []string{
	"state",
	"state/sessions",
	"state/checkpoints",
	"notepads",
	"plans",
	"research",
	"logs",
	"drafts",
	"skills",
}

// preservedStateFiles is excluded from maintenance's age-based prune (spec
// §4.6): these carry long-running mode state that outlives the 7-day window.
var preservedStateFiles = map[string]bool{
	"autopilot-state.json":  true,
	"ultrapilot-state.json": true,
	"ralph-state.json":      true,
	"ultrawork-state.json":  true,
	"swarm-state.json":      true,
}

const (
	stateMaxAge   = 7 * 24 * time.Hour
	sessionMaxAge = 24 * time.Hour
)

// Init runs the init trigger against root: creates the .omc/ subtree, and
// validates .omc-config.json if present. Every individual step tolerates
// failure silently (spec §4.6 "all operations tolerate individual failures
// silently"), matching the Hook Bus's "never block host progress" policy.
func Init(root string) error {
	omcRoot, err := pathguard.ResolveOmc("", root)
	if err != nil {
		return nil
	}
	_ = os.MkdirAll(omcRoot, 0o700)

	for _, dir := range subtreeDirs {
		path, err := pathguard.ResolveOmc(dir, root)
		if err != nil {
			continue
		}
		_ = os.MkdirAll(path, 0o700)
	}

	_, _ = config.LoadOmcConfig(filepath.Join(root, ".omc-config.json"))

	return nil
}

// Maintenance runs the maintenance trigger against root: prunes aged state
// files (excluding the long-running persistent-mode records), prunes aged
// session-scoped files, releases swarm task claims whose heartbeat is older
// than swarmStaleClaimSeconds (spec §4.6/§4.8's watchdog), and vacuums
// swarm.db if present. swarmStaleClaimSeconds<=0 skips the claim sweep.
func Maintenance(root string, now time.Time, swarmStaleClaimSeconds int) {
	pruneStateDir(root, now)
	pruneSessionDir(root, now)
	if swarmStaleClaimSeconds > 0 {
		cleanupSwarmStaleClaims(root, int64(swarmStaleClaimSeconds)*1000)
	}
	vacuumSwarmDB(root)
}

// cleanupSwarmStaleClaims best-effort opens swarm.db and releases claims
// whose heartbeat has gone stale; a missing or absent swarm.db is a no-op.
func cleanupSwarmStaleClaims(root string, thresholdMs int64) {
	store, err := swarm.OpenExisting(root)
	if err != nil {
		return
	}
	defer store.Close()
	_, _ = store.CleanupStaleClaims(thresholdMs)
}

func pruneStateDir(root string, now time.Time) {
	stateDir, err := pathguard.ResolveOmc("state", root)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if preservedStateFiles[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > stateMaxAge {
			_ = os.Remove(filepath.Join(stateDir, e.Name()))
		}
	}
}

func pruneSessionDir(root string, now time.Time) {
	sessionsDir, err := pathguard.ResolveOmc("state/sessions", root)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		sidDir := filepath.Join(sessionsDir, e.Name())
		files, err := os.ReadDir(sidDir)
		if err != nil {
			continue
		}
		removedAll := true
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				removedAll = false
				continue
			}
			if now.Sub(info.ModTime()) > sessionMaxAge {
				_ = os.Remove(filepath.Join(sidDir, f.Name()))
				continue
			}
			removedAll = false
		}
		if removedAll {
			_ = os.Remove(sidDir)
		}
	}
}

func vacuumSwarmDB(root string) {
	path, err := pathguard.ResolveOmc(swarm.DBRelPath, root)
	if err != nil {
		return
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return
	}
	db, err := sql.Open("sqlite", path+"?_busy_timeout=2000")
	if err != nil {
		return
	}
	defer db.Close()
	_, _ = db.Exec("VACUUM")
}
