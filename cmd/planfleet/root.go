package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/api"
	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/config"
	"github.com/planfleet/planfleet/internal/orchestrator"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/internal/store"
)

var projectRoot string

// CheckBeadsCLI verifies that the bd CLI is available in PATH.
func CheckBeadsCLI() error {
	if _, err := exec.LookPath("bd"); err != nil {
		return fmt.Errorf("bd CLI not found in PATH\n\n" +
			"Planfleet uses the beads task store to hold plan task graphs.\n" +
			"Install bd and run 'bd init' in your project first.")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "planfleet",
	Short: "Plan-driven agent fleet orchestrator",
	Long: `Planfleet turns a plan into a dependency graph of tasks and drives a
fleet of sandboxed coding agents through it.

Each task runs in its own git worktree on its own branch. A polling
dispatch loop hands unblocked tasks to agents as parallelism allows,
critics review finished work and file fix-up tasks, and the plan moves
to ready_for_review once the graph is closed out.

Typical flow:
  planfleet plan create --file plan.yaml   # create plan and seed tasks
  planfleet plan delegate <plan>           # release it for dispatch
  planfleet run                            # run the dispatch loop
  planfleet watch <plan>                   # live view of a running plan
  planfleet plan complete <plan>           # accept and tear down`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", ".", "Project root directory")
}

// resolveProject returns the absolute project root.
func resolveProject() (string, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return abs, nil
}

// app bundles everything a command needs.
type app struct {
	root string
	cfg  *config.Config
	db   *store.DB
	orch *orchestrator.Orchestrator
}

// openApp loads configuration, opens the store, and wires the
// orchestrator for the current project.
func openApp() (*app, error) {
	root, err := resolveProject()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(store.DefaultDBPath(root))
	if err != nil {
		return nil, err
	}

	repos := cfg.Repos
	if len(repos) == 0 {
		repos = map[string]string{orchestrator.DefaultRepoID: root}
	}

	var reviewer orchestrator.Reviewer
	if cfg.Critics.UseAPI {
		client, err := api.NewClient(api.ClientConfig{})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("critics.use_api is set: %w", err)
		}
		reviewer = client
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:     cfg,
		DB:         db,
		Beads:      beads.NewCLIClient(root),
		Containers: runtime.NewDockerRunner(),
		Repos:      repos,
		Reviewer:   reviewer,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{root: root, cfg: cfg, db: db, orch: orch}, nil
}

// close shuts the app down in reverse order.
func (a *app) close() {
	a.orch.Shutdown()
	a.db.Close()
}
