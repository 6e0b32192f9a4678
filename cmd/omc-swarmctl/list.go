package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List swarm tasks",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, claimed, completed, failed)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	store, err := swarm.OpenExisting(root)
	if err != nil {
		return fmt.Errorf("open swarm.db: %w", err)
	}
	defer store.Close()

	tasks, err := store.ListTasks(listStatus)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		claimed := "-"
		if !t.ClaimedAt.IsZero() {
			claimed = t.ClaimedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%-10s\t%-20s\t%d/%d\t%s\n", t.ID, t.Status, t.ClaimedBy, t.RetryCount, t.MaxRetries, claimed)
		if t.Error != "" {
			fmt.Printf("\terror: %s\n", t.Error)
		}
	}
	return nil
}
