package domain

import "time"

// Marker is the sentinel JSON body written for marker-based modes (spec
// §6.2: "Marker files: JSON with at least {mode, startedAt: ISO-8601, ...}").
type Marker struct {
	Mode      ModeName  `json:"mode"`
	StartedAt time.Time `json:"startedAt"`
	// AgentCount is set by swarm's marker; zero for other marker modes.
	AgentCount int `json:"agentCount,omitempty"`
}
