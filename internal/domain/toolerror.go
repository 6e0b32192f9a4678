package domain

import "time"

// LastToolError is the record written to .omc/state/last-tool-error.json
// after a failing tool call, and consumed by the Persistent-Mode Driver's
// retry guidance (spec §4.7).
type LastToolError struct {
	ToolName   string    `json:"tool_name"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	At         time.Time `json:"at"`
}
