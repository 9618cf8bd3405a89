package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveProject()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		fmt.Printf("poller.interval: %s\n", cfg.Poller.Interval)
		fmt.Printf("poller.stagnation_threshold: %s\n", cfg.Poller.StagnationThreshold)
		fmt.Printf("poller.cycle_check_interval: %s\n", cfg.Poller.CycleCheckInterval)
		fmt.Printf("poller.stale_assignment_age: %s\n", cfg.Poller.StaleAssignmentAge)
		fmt.Printf("agents.max_parallel: %d\n", cfg.Agents.MaxParallel)
		fmt.Printf("agents.model: %s\n", cfg.Agents.Model)
		fmt.Printf("critics.enabled: %t\n", cfg.Critics.Enabled)
		fmt.Printf("critics.max_iterations: %d\n", cfg.Critics.MaxIterations)
		fmt.Printf("critics.max_fixups_per_task: %d\n", cfg.Critics.MaxFixupsPerTask)
		fmt.Printf("critics.use_api: %t\n", cfg.Critics.UseAPI)
		fmt.Printf("runtime.image: %s\n", cfg.Runtime.Image)
		fmt.Printf("runtime.stop_grace: %s\n", cfg.Runtime.StopGrace)
		for id, root := range cfg.Repos {
			fmt.Printf("repos.%s: %s\n", id, root)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where configuration is read from",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveProject()
		if err != nil {
			return err
		}
		fmt.Println(filepath.Join(config.ConfigDir(), "config.yaml"))
		fmt.Println(filepath.Join(root, ".planfleet", "config.yaml"))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
