package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var reclaimThresholdSeconds int

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Release tasks held by agents whose heartbeat has gone stale",
	RunE:  runReclaim,
}

func init() {
	reclaimCmd.Flags().IntVar(&reclaimThresholdSeconds, "threshold-seconds", 0,
		"heartbeat age threshold in seconds (default: omc.yaml's watchdog.swarm_stale_claim_seconds)")
	rootCmd.AddCommand(reclaimCmd)
}

func runReclaim(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	threshold := reclaimThresholdSeconds
	if threshold <= 0 {
		threshold = loadConfig(root).Watchdog.SwarmStaleClaimSeconds
	}

	store, err := swarm.OpenExisting(root)
	if err != nil {
		return fmt.Errorf("open swarm.db: %w", err)
	}
	defer store.Close()

	released, err := store.CleanupStaleClaims(int64(threshold) * 1000)
	if err != nil {
		return err
	}
	fmt.Printf("released %d stale claim(s) (threshold=%ds)\n", released, threshold)
	return nil
}
