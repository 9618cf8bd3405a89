package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispatch loop for all active plans",
	Long: `Run the orchestrator in the foreground. Every plan in delegating,
in_progress, or ready_for_review status is polled against the task store;
unblocked tasks are dispatched to agents as parallelism allows.

Configuration changes on disk are picked up without a restart. Stop with
Ctrl-C; running agents are stopped cleanly.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := CheckBeadsCLI(); err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.orch.Start(ctx); err != nil {
		return err
	}

	config.Watch(a.root, a.orch.UpdateConfig, func(err error) {
		fmt.Fprintf(os.Stderr, "config reload: %v\n", err)
	})

	// Drain events; headless runs have no subscriber.
	go func() {
		for range a.orch.Events() {
		}
	}()

	color.Green("planfleet running (project %s)", a.root)
	fmt.Println("Press Ctrl-C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nStopping agents...")
	return nil
}
