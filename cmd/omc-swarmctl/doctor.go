package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose stale agents and stuck tasks without modifying anything",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor is read-only: it reports against the watchdog thresholds
// (spec §4.6/§4.8) but never calls CleanupStaleClaims itself, so an
// operator can see what reclaim or a retry would do before running it.
func runDoctor(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	store, err := swarm.OpenExisting(root)
	if err != nil {
		return fmt.Errorf("open swarm.db: %w", err)
	}
	defer store.Close()

	heartbeats, err := store.ListHeartbeats()
	if err != nil {
		return err
	}
	heartbeatCutoff := time.Duration(cfg.Watchdog.HeartbeatStaleSeconds) * time.Second
	staleAgents := 0
	for _, h := range heartbeats {
		if age := time.Since(h.LastHeartbeat); age > heartbeatCutoff {
			fmt.Printf("stale agent: %s (last heartbeat %s ago, current task %s)\n", h.AgentID, age.Round(time.Second), h.CurrentTaskID)
			staleAgents++
		}
	}

	tasks, err := store.ListTasks("claimed")
	if err != nil {
		return err
	}
	taskStuckCutoff := time.Duration(cfg.Watchdog.TaskStuckSeconds) * time.Second
	stuckTasks := 0
	for _, t := range tasks {
		if t.ClaimedAt.IsZero() {
			continue
		}
		if age := time.Since(t.ClaimedAt); age > taskStuckCutoff {
			fmt.Printf("stuck task: %s claimed_by=%s held %s (retries %d/%d)\n", t.ID, t.ClaimedBy, age.Round(time.Second), t.RetryCount, t.MaxRetries)
			stuckTasks++
		}
	}

	if staleAgents == 0 && stuckTasks == 0 {
		fmt.Println("healthy: no stale agents or stuck tasks")
	}
	return nil
}
