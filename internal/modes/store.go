// Package modes implements the Mode Registry (mutual exclusion across
// concurrently-runnable execution modes) and the per-mode state machines
// built on top of it (spec §4.3, §4.4).
package modes

import (
	"time"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

// LoadGlobal reads the worktree-wide state file for modeName into out.
// found=false means "no state" (missing file or corrupt JSON) per spec's
// StateCorrupt/safeReadJson contract — never an error the caller must
// handle specially.
func LoadGlobal(modeName domain.ModeName, root string, out any) (found bool, err error) {
	path, err := pathguard.ResolveState(modeName, root)
	if err != nil {
		return false, err
	}
	return atomicstore.SafeReadJSON(path, out)
}

// SaveGlobal atomically rewrites the whole state record for modeName.
// Ordering guarantee (spec §5): the record is always rewritten whole, so any
// reader observes a consistent (active, iteration, ...) tuple. Concurrent
// read-modify-write races are last-writer-wins by design (§5, §9: no
// advisory locks are taken).
func SaveGlobal(modeName domain.ModeName, root string, state any) error {
	path, err := pathguard.ResolveState(modeName, root)
	if err != nil {
		return err
	}
	return atomicstore.WriteJSON(path, state)
}

// DeleteGlobal removes the state file for modeName, tolerating "already gone".
func DeleteGlobal(modeName domain.ModeName, root string) error {
	path, err := pathguard.ResolveState(modeName, root)
	if err != nil {
		return err
	}
	return atomicstore.Remove(path)
}

// LoadForSession reads the global state for modeName and enforces invariant
// M2: if the record carries a session_id, it is rejected when queried for a
// different session. A record with no session_id (zero value) is readable
// by any session.
//
// This is for the worktree-exclusive modes (autopilot, ultrapilot,
// team-pipeline): invariant M1 already guarantees at most one instance runs
// per worktree, so a single shared record plus a session_id filter is
// sufficient to stop a second session from reading or resuming someone
// else's run. Modes that can run concurrently across sessions in the same
// worktree (ralph, ultrawork, ultraqa) must not use this: see
// SaveSession/LoadSession/DeleteSession below.
func LoadForSession(modeName domain.ModeName, sid, root string, out domain.Stateful) (found bool, err error) {
	found, err = LoadGlobal(modeName, root, out)
	if err != nil || !found {
		return found, err
	}
	if out.GetSessionID() != "" && out.GetSessionID() != sid {
		return false, nil
	}
	return true, nil
}

// SaveSession atomically rewrites the per-session state record for modeName
// and sid, under state/sessions/<sid>/ (spec §3/§4.1's per-session layout).
// Unlike SaveGlobal, two sessions running the same mode concurrently in one
// worktree write to distinct files and can never clobber each other
// (invariant M2). Used by ralph, ultrawork, and ultraqa, which are not
// worktree-exclusive (M1) and so can genuinely run once per session.
func SaveSession(modeName domain.ModeName, sid, root string, state any) error {
	path, err := pathguard.ResolveSessionState(modeName, sid, root)
	if err != nil {
		return err
	}
	return atomicstore.WriteJSON(path, state)
}

// LoadSession reads the per-session state record for modeName and sid. The
// path itself is already scoped to sid, so unlike LoadForSession no
// session_id filtering is needed on the decoded record.
func LoadSession(modeName domain.ModeName, sid, root string, out any) (found bool, err error) {
	path, err := pathguard.ResolveSessionState(modeName, sid, root)
	if err != nil {
		return false, err
	}
	return atomicstore.SafeReadJSON(path, out)
}

// DeleteSession removes the per-session state record, tolerating "already
// gone".
func DeleteSession(modeName domain.ModeName, sid, root string) error {
	path, err := pathguard.ResolveSessionState(modeName, sid, root)
	if err != nil {
		return err
	}
	return atomicstore.Remove(path)
}

// touch stamps UpdatedAt (and StartedAt, if zero) on a Frame.
func touch(f *domain.Frame) {
	now := time.Now()
	if f.StartedAt.IsZero() {
		f.StartedAt = now
	}
	f.UpdatedAt = now
}

// errConflict builds the structured ModeConflict error returned by start
// calls per spec §7.
func errConflict(blockedBy domain.ModeName, message string) error {
	return &domain.ModeConflictError{BlockedBy: blockedBy, Message: message}
}
