package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/swarm"
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Run VACUUM on swarm.db",
	RunE:  runVacuum,
}

func init() {
	rootCmd.AddCommand(vacuumCmd)
}

func runVacuum(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	store, err := swarm.OpenExisting(root)
	if err != nil {
		return fmt.Errorf("open swarm.db: %w", err)
	}
	defer store.Close()

	if err := store.Vacuum(); err != nil {
		return err
	}
	fmt.Println("vacuumed")
	return nil
}
