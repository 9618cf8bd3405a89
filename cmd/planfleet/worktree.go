package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Manage task worktrees",
}

var worktreeCleanCmd = &cobra.Command{
	Use:   "clean <plan> <task>",
	Short: "Tear down one task's worktree and free its parallelism slot",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorktreeClean,
}

func init() {
	worktreeCmd.AddCommand(worktreeCleanCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func runWorktreeClean(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.CleanupWorktree(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	color.Green("Worktree for task %s cleaned", args[1])
	return nil
}
