package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <plan>",
	Short: "Run the dispatch loop with a live view of one plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	app := tui.NewApp(args[0], a.db, a.orch.Events())
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
