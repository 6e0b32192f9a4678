package domain

// SwarmTaskStatus is the closed status set a swarm task moves through.
type SwarmTaskStatus string

const (
	SwarmPending   SwarmTaskStatus = "pending"
	SwarmClaimed   SwarmTaskStatus = "claimed"
	SwarmRunning   SwarmTaskStatus = "running"
	SwarmCompleted SwarmTaskStatus = "completed"
	SwarmFailed    SwarmTaskStatus = "failed"
)

// SwarmTask is one row of the swarm.db tasks table.
type SwarmTask struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Status      SwarmTaskStatus `json:"status"`
	ClaimedBy   string          `json:"claimed_by,omitempty"`
	ClaimedAt   int64           `json:"claimed_at,omitempty"` // ms epoch
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	CompletedAt int64           `json:"completed_at,omitempty"`
}

// NewSwarmTask is the payload accepted by addTasks.
type NewSwarmTask struct {
	ID          string
	Description string
	MaxRetries  int
}

// SwarmHeartbeat is one row of the heartbeats table.
type SwarmHeartbeat struct {
	AgentID       string `json:"agent_id"`
	CurrentTaskID string `json:"current_task_id"`
	LastHeartbeat int64  `json:"last_heartbeat"` // ms epoch
}

// SwarmClaimResult is returned by ClaimTask.
type SwarmClaimResult struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"task_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// SwarmSession is the single-row session table.
type SwarmSession struct {
	ID         string `json:"id"`
	AgentCount int    `json:"agent_count"`
	StartedAt  int64  `json:"started_at"`
}
