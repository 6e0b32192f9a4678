// Package swarm implements the Swarm Coordinator (spec §4.8): an on-disk
// SQLite task queue that lets parallel worker subagents claim, heartbeat,
// complete, and retry tasks, with stale-claim recovery.
//
// Unlike the teacher's repository layer — which serializes every read and
// write through one in-process mutex and reloads/rewrites the whole state on
// each Save — each operation here runs inside its own row-level
// BEGIN IMMEDIATE transaction. A hook invocation is a separate short-lived
// OS process (spec §5), so there is no shared mutex to serialize through;
// SQLite's own locking has to do that work instead.
package swarm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	claimed_by TEXT NOT NULL DEFAULT '',
	claimed_at INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS heartbeats (
	agent_id TEXT PRIMARY KEY,
	current_task_id TEXT NOT NULL DEFAULT '',
	last_heartbeat INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	agent_count INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
`

// schemaVersion is stamped via PRAGMA user_version (spec §6.2). Bump it and
// add a migration branch in openSchema when the schema changes shape.
const schemaVersion = 1

// claimRetryBudget bounds claimTask's retry-on-lost-race loop (spec §4.8
// step 4: "retry from step 2, bounded retries, then give up").
const claimRetryBudget = 5

// Store wraps the swarm.db connection. All exported methods are individually
// transactional; callers do not need to wrap calls in their own transaction.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and opens path with WAL journaling and a busy
// timeout of at least 2s (spec §4.8), matching the teacher's
// `modernc.org/sqlite` + `?_journal_mode=WAL&_busy_timeout=...` DSN idiom in
// internal/repository/sqlite/store.go. modernc.org/sqlite has no
// mattn/go-sqlite3-style `_txlock` DSN option, so the BEGIN IMMEDIATE spec
// §4.8 requires for claimTask is issued explicitly by beginImmediate below
// rather than requested through the DSN.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("swarm: mkdir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("swarm: open: %w", err)
	}
	if err := openSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func openSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("swarm: schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("swarm: read user_version: %w", err)
	}
	if version < schemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("swarm: set user_version: %w", err)
		}
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// InitSession creates the single session row if one doesn't already exist
// (spec §4.8 "initSession").
func (s *Store) InitSession(sessionID string, agentCount int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("swarm: begin initSession: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow("SELECT id FROM session LIMIT 1").Scan(&existing)
	if err == nil {
		return tx.Commit() // already initialized; no-op
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("swarm: query session: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO session (id, agent_count, started_at) VALUES (?, ?, ?)",
		sessionID, agentCount, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("swarm: insert session: %w", err)
	}
	return tx.Commit()
}

// TaskInput is one task to enqueue via AddTasks. ID is generated when empty.
type TaskInput struct {
	ID          string
	Description string
	MaxRetries  int
}

// AddTasks bulk-inserts tasks as pending (spec §4.8 "addTasks").
func (s *Store) AddTasks(tasks []TaskInput) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("swarm: begin addTasks: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, t := range tasks {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(
			"INSERT INTO tasks (id, description, status, max_retries, created_at) VALUES (?, ?, 'pending', ?, ?)",
			id, t.Description, t.MaxRetries, now,
		); err != nil {
			return fmt.Errorf("swarm: insert task %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClaimResult is the {success, taskId, description, reason?} tuple returned
// by ClaimTask (spec §4.8).
type ClaimResult struct {
	Success     bool
	TaskID      string
	Description string
	Reason      string
}

// ClaimTask atomically claims the oldest pending task for agentID (spec
// §4.8 "claimTask"). Each attempt runs its own BEGIN IMMEDIATE transaction;
// if a concurrent claimant wins the race (the conditional UPDATE affects 0
// rows) the attempt is retried, bounded by claimRetryBudget.
func (s *Store) ClaimTask(agentID string) (ClaimResult, error) {
	for attempt := 0; attempt < claimRetryBudget; attempt++ {
		result, retry, err := s.tryClaim(agentID)
		if err != nil {
			return ClaimResult{}, err
		}
		if !retry {
			return result, nil
		}
	}
	return ClaimResult{Success: false, Reason: "exhausted claim retries under contention"}, nil
}

// immediateTx is a write transaction opened with BEGIN IMMEDIATE on a single
// pinned connection. database/sql's *sql.Tx always issues a plain BEGIN
// (deferred: the write lock is acquired lazily, on the transaction's first
// write), so claimTask pins its own *sql.Conn and drives the raw statements
// instead of going through Store.db.Begin().
type immediateTx struct {
	conn *sql.Conn
}

// beginImmediate pins a connection from the pool and opens a write
// transaction that acquires SQLite's write lock immediately, so two
// concurrent claimants serialize on BEGIN IMMEDIATE (one blocks for up to
// _busy_timeout, then proceeds) rather than both acquiring a deferred
// transaction and racing to upgrade to a write lock on their first write.
func beginImmediate(ctx context.Context, db *sql.DB) (*immediateTx, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		return nil, err
	}
	return &immediateTx{conn: conn}, nil
}

func (t *immediateTx) Commit() error {
	defer t.conn.Close()
	_, err := t.conn.ExecContext(context.Background(), "COMMIT")
	return err
}

// Rollback tolerates being called after a successful Commit (the deferred
// call at each tryClaim return site), matching *sql.Tx.Rollback's contract.
func (t *immediateTx) Rollback() error {
	defer t.conn.Close()
	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	return err
}

func (s *Store) tryClaim(agentID string) (result ClaimResult, retry bool, err error) {
	ctx := context.Background()
	tx, err := beginImmediate(ctx, s.db)
	if err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: begin immediate claimTask: %w", err)
	}
	defer tx.Rollback()

	var id, description string
	err = tx.conn.QueryRowContext(ctx, "SELECT id, description FROM tasks WHERE status='pending' ORDER BY created_at LIMIT 1").Scan(&id, &description)
	if err == sql.ErrNoRows {
		return ClaimResult{Success: false, Reason: "No pending tasks available"}, false, tx.Commit()
	}
	if err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: select pending task: %w", err)
	}

	now := time.Now().UnixMilli()
	res, err := tx.conn.ExecContext(ctx, "UPDATE tasks SET status='claimed', claimed_by=?, claimed_at=? WHERE id=? AND status='pending'", agentID, now, id)
	if err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: claim task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: claim rows affected: %w", err)
	}
	if affected == 0 {
		// Someone else won the race between SELECT and UPDATE; commit the
		// no-op transaction and signal the caller to retry from the top.
		return ClaimResult{}, true, tx.Commit()
	}

	if _, err := tx.conn.ExecContext(ctx,
		"INSERT INTO heartbeats (agent_id, current_task_id, last_heartbeat) VALUES (?, ?, ?) "+
			"ON CONFLICT(agent_id) DO UPDATE SET current_task_id=excluded.current_task_id, last_heartbeat=excluded.last_heartbeat",
		agentID, id, now,
	); err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: upsert heartbeat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ClaimResult{}, false, fmt.Errorf("swarm: commit claimTask: %w", err)
	}
	return ClaimResult{Success: true, TaskID: id, Description: description}, false, nil
}

// Heartbeat updates last_heartbeat for agentID (spec §4.8 "heartbeat").
func (s *Store) Heartbeat(agentID string) error {
	_, err := s.db.Exec(
		"INSERT INTO heartbeats (agent_id, current_task_id, last_heartbeat) VALUES (?, '', ?) "+
			"ON CONFLICT(agent_id) DO UPDATE SET last_heartbeat=excluded.last_heartbeat",
		agentID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("swarm: heartbeat: %w", err)
	}
	return nil
}

// CompleteTask marks taskID completed with result (spec §4.8 "completeTask").
func (s *Store) CompleteTask(taskID, result string) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET status='completed', result=?, completed_at=? WHERE id=?",
		result, time.Now().UnixMilli(), taskID,
	)
	if err != nil {
		return fmt.Errorf("swarm: completeTask %s: %w", taskID, err)
	}
	return nil
}

// FailTask records a task failure (spec §4.8 "failTask"). When retryable and
// the bumped retry_count is still within max_retries, the task is reset to
// pending (claimed_by cleared) instead of being marked failed outright.
func (s *Store) FailTask(taskID, errMsg string, retryable bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("swarm: begin failTask: %w", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	if err := tx.QueryRow("SELECT retry_count, max_retries FROM tasks WHERE id=?", taskID).Scan(&retryCount, &maxRetries); err != nil {
		return fmt.Errorf("swarm: select task %s: %w", taskID, err)
	}

	if retryable && retryCount+1 <= maxRetries {
		if _, err := tx.Exec(
			"UPDATE tasks SET status='pending', claimed_by='', claimed_at=0, retry_count=?, error=? WHERE id=?",
			retryCount+1, errMsg, taskID,
		); err != nil {
			return fmt.Errorf("swarm: requeue task %s: %w", taskID, err)
		}
	} else {
		if _, err := tx.Exec(
			"UPDATE tasks SET status='failed', error=?, completed_at=? WHERE id=?",
			errMsg, time.Now().UnixMilli(), taskID,
		); err != nil {
			return fmt.Errorf("swarm: fail task %s: %w", taskID, err)
		}
	}
	return tx.Commit()
}

// CleanupStaleClaims releases tasks held by agents whose heartbeat is older
// than thresholdMs (spec §4.8 "cleanupStaleClaims"), respecting each task's
// retry budget the same way FailTask does. Returns the number of tasks
// released.
func (s *Store) CleanupStaleClaims(thresholdMs int64) (released int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("swarm: begin cleanupStaleClaims: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().UnixMilli() - thresholdMs
	rows, err := tx.Query("SELECT agent_id FROM heartbeats WHERE last_heartbeat < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("swarm: select stale agents: %w", err)
	}
	var staleAgents []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			rows.Close()
			return 0, fmt.Errorf("swarm: scan stale agent: %w", err)
		}
		staleAgents = append(staleAgents, agent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("swarm: iterate stale agents: %w", err)
	}

	for _, agent := range staleAgents {
		taskRows, err := tx.Query("SELECT id, retry_count, max_retries FROM tasks WHERE claimed_by=? AND status IN ('claimed', 'running')", agent)
		if err != nil {
			return released, fmt.Errorf("swarm: select tasks for %s: %w", agent, err)
		}
		type staleTask struct {
			id                     string
			retryCount, maxRetries int
		}
		var tasks []staleTask
		for taskRows.Next() {
			var t staleTask
			if err := taskRows.Scan(&t.id, &t.retryCount, &t.maxRetries); err != nil {
				taskRows.Close()
				return released, fmt.Errorf("swarm: scan stale task: %w", err)
			}
			tasks = append(tasks, t)
		}
		taskRows.Close()
		if err := taskRows.Err(); err != nil {
			return released, fmt.Errorf("swarm: iterate stale tasks: %w", err)
		}

		for _, t := range tasks {
			if t.retryCount+1 <= t.maxRetries {
				if _, err := tx.Exec(
					"UPDATE tasks SET status='pending', claimed_by='', claimed_at=0, retry_count=? WHERE id=?",
					t.retryCount+1, t.id,
				); err != nil {
					return released, fmt.Errorf("swarm: requeue stale task %s: %w", t.id, err)
				}
			} else {
				if _, err := tx.Exec(
					"UPDATE tasks SET status='failed', error='stale claim: retry budget exhausted', completed_at=? WHERE id=?",
					time.Now().UnixMilli(), t.id,
				); err != nil {
					return released, fmt.Errorf("swarm: fail stale task %s: %w", t.id, err)
				}
			}
			released++
		}

		if _, err := tx.Exec("DELETE FROM heartbeats WHERE agent_id=?", agent); err != nil {
			return released, fmt.Errorf("swarm: delete heartbeat for %s: %w", agent, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("swarm: commit cleanupStaleClaims: %w", err)
	}
	return released, nil
}

// IsSwarmComplete reports true once no task is pending, claimed, or running
// (spec §4.8 "Termination").
func (s *Store) IsSwarmComplete() (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE status IN ('pending', 'claimed', 'running')").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("swarm: count outstanding tasks: %w", err)
	}
	return count == 0, nil
}

// TaskRow is one row of the tasks table, as listed by cmd/omc-swarmctl.
type TaskRow struct {
	ID          string
	Description string
	Status      string
	ClaimedBy   string
	ClaimedAt   time.Time
	RetryCount  int
	MaxRetries  int
	Error       string
}

// ListTasks returns every task, most recently created first. An empty
// statusFilter returns every status.
func (s *Store) ListTasks(statusFilter string) ([]TaskRow, error) {
	query := "SELECT id, description, status, claimed_by, claimed_at, retry_count, max_retries, error FROM tasks"
	args := []any{}
	if statusFilter != "" {
		query += " WHERE status=?"
		args = append(args, statusFilter)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("swarm: list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var t TaskRow
		var claimedMs int64
		if err := rows.Scan(&t.ID, &t.Description, &t.Status, &t.ClaimedBy, &claimedMs, &t.RetryCount, &t.MaxRetries, &t.Error); err != nil {
			return nil, fmt.Errorf("swarm: scan task: %w", err)
		}
		if claimedMs > 0 {
			t.ClaimedAt = time.UnixMilli(claimedMs)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HeartbeatRow is one row of the heartbeats table, as listed by
// cmd/omc-swarmctl's doctor subcommand.
type HeartbeatRow struct {
	AgentID       string
	CurrentTaskID string
	LastHeartbeat time.Time
}

// ListHeartbeats returns every agent's last-known heartbeat.
func (s *Store) ListHeartbeats() ([]HeartbeatRow, error) {
	rows, err := s.db.Query("SELECT agent_id, current_task_id, last_heartbeat FROM heartbeats")
	if err != nil {
		return nil, fmt.Errorf("swarm: list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []HeartbeatRow
	for rows.Next() {
		var h HeartbeatRow
		var lastMs int64
		if err := rows.Scan(&h.AgentID, &h.CurrentTaskID, &lastMs); err != nil {
			return nil, fmt.Errorf("swarm: scan heartbeat: %w", err)
		}
		h.LastHeartbeat = time.UnixMilli(lastMs)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Vacuum runs VACUUM (used by the Setup maintenance trigger, spec §4.6).
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("swarm: vacuum: %w", err)
	}
	return nil
}
