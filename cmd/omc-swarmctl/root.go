// Command omc-swarmctl is the operator CLI over a worktree's swarm.db: it
// lists, reclaims, and vacuums the Swarm Coordinator's task queue (spec
// §4.8) from outside the hook-dispatch path, for when a swarm run needs
// inspecting or nudging between hook invocations. Grounded on the cobra
// command-tree shape used by the pack's own standalone agent CLIs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omc/kernel/internal/config"
	"github.com/omc/kernel/internal/pathguard"
)

var rootFlag string

var rootCmd = &cobra.Command{
	Use:   "omc-swarmctl",
	Short: "Inspect and administer a worktree's swarm task queue",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "worktree root (default: git toplevel of the current directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "omc-swarmctl:", err)
		os.Exit(1)
	}
}

// resolveRoot honors --root when set, else derives the worktree root from
// the current directory the same way cmd/omc-hook does.
func resolveRoot() (string, error) {
	if rootFlag != "" {
		return rootFlag, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	root, err := pathguard.New().WorktreeRoot(cwd)
	if err != nil || root == "" {
		return cwd, nil
	}
	return root, nil
}

func loadConfig(root string) *config.Config {
	cfg, err := config.Load(filepath.Join(root, "omc.yaml"))
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}
