package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/orchestrator"
	"github.com/planfleet/planfleet/internal/planfile"
	"github.com/planfleet/planfleet/pkg/models"
)

var (
	planCreateFile        string
	planCreateTitle       string
	planCreateDescription string
	planCreateStrategy    string
	planCreateMode        string
	planCreateMaxParallel int

	planDiscussNotes        string
	planCloneWithDiscussion bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plans",
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a plan",
	Long: `Create a plan, either from flags or from a plan file.

A plan file describes the plan and its full task graph:

  title: Add search
  branch_strategy: feature_branch
  tasks:
    - title: Build index
    - title: Wire query endpoint
      depends_on: [Build index]

With --file, the tasks are created in the task store immediately.`,
	RunE: runPlanCreate,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE:  runPlanList,
}

var planStatusCmd = &cobra.Command{
	Use:   "status <plan>",
	Short: "Show a plan's worktrees, assignments, and recent activity",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanStatus,
}

var planDiscussCmd = &cobra.Command{
	Use:   "discuss <plan>",
	Short: "Mark a draft plan as discussed",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanDiscuss,
}

var planDelegateCmd = &cobra.Command{
	Use:   "delegate <plan>",
	Short: "Release a plan for dispatch",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanDelegate,
}

var planCompleteCmd = &cobra.Command{
	Use:   "complete <plan>",
	Short: "Accept a reviewed plan and tear down its worktrees",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanComplete,
}

var planCloneCmd = &cobra.Command{
	Use:   "clone <plan>",
	Short: "Duplicate a plan and its task graph under fresh IDs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanClone,
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan>",
	Short: "Delete a plan, its worktrees, and its local state",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanDelete,
}

func init() {
	planCreateCmd.Flags().StringVarP(&planCreateFile, "file", "f", "", "Plan file (YAML)")
	planCreateCmd.Flags().StringVar(&planCreateTitle, "title", "", "Plan title")
	planCreateCmd.Flags().StringVar(&planCreateDescription, "description", "", "Plan description")
	planCreateCmd.Flags().StringVar(&planCreateStrategy, "strategy", "", "Branch strategy: feature_branch or raise_prs")
	planCreateCmd.Flags().StringVar(&planCreateMode, "mode", "", "Team mode: top-down or bottom-up")
	planCreateCmd.Flags().IntVar(&planCreateMaxParallel, "max-parallel", 0, "Max concurrent agents for this plan")
	planDiscussCmd.Flags().StringVar(&planDiscussNotes, "notes", "", "Discussion notes to record on the plan")
	planCloneCmd.Flags().BoolVar(&planCloneWithDiscussion, "include-discussion", false, "Copy the source plan's discussion notes")

	planCmd.AddCommand(planCreateCmd, planListCmd, planStatusCmd, planDiscussCmd,
		planDelegateCmd, planCompleteCmd, planCloneCmd, planDeleteCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	opts := orchestrator.CreatePlanOptions{
		Title:          planCreateTitle,
		Description:    planCreateDescription,
		BranchStrategy: models.BranchStrategy(planCreateStrategy),
		TeamMode:       models.TeamMode(planCreateMode),
		MaxParallel:    planCreateMaxParallel,
	}

	var seeds []orchestrator.TaskSeed
	if planCreateFile != "" {
		f, err := planfile.Load(planCreateFile)
		if err != nil {
			return err
		}
		if opts.Title == "" {
			opts.Title = f.Title
		}
		if opts.Description == "" {
			opts.Description = f.Description
		}
		if opts.BranchStrategy == "" {
			opts.BranchStrategy = models.BranchStrategy(f.BranchStrategy)
		}
		if opts.TeamMode == "" {
			opts.TeamMode = models.TeamMode(f.TeamMode)
		}
		if opts.MaxParallel == 0 {
			opts.MaxParallel = f.MaxParallel
		}
		for _, t := range f.Tasks {
			seeds = append(seeds, orchestrator.TaskSeed{
				Title:     t.Title,
				Repo:      t.Repo,
				DependsOn: t.DependsOn,
				Optional:  t.Optional,
			})
		}
	}

	plan, err := a.orch.CreatePlan(opts)
	if err != nil {
		return err
	}

	if len(seeds) > 0 {
		ids, err := a.orch.SeedTasks(context.Background(), plan.ID, seeds)
		if err != nil {
			return fmt.Errorf("plan %s created, but seeding tasks failed: %w", plan.ID, err)
		}
		fmt.Printf("Seeded %d task(s)\n", len(ids))
	}

	color.Green("Created plan %s", plan.ID)
	fmt.Printf("  %s\n", plan.Title)
	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	plans, err := a.db.ListPlans()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No plans yet. Create one with 'planfleet plan create'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tWORKTREES\tTITLE")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, colorStatus(p.Status), p.ActiveWorktreeCount(), p.Title)
	}
	return w.Flush()
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := a.db.GetPlan(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", color.New(color.Bold).Sprint(plan.Title), colorStatus(plan.Status))
	fmt.Printf("  strategy: %s  mode: %s  max parallel: %d\n",
		plan.BranchStrategy, plan.TeamMode, plan.MaxParallelAgents)
	if plan.FeatureBranch != "" {
		fmt.Printf("  feature branch: %s\n", plan.FeatureBranch)
	}

	if len(plan.Worktrees) > 0 {
		fmt.Println("\nWorktrees:")
		for _, wt := range plan.Worktrees {
			line := fmt.Sprintf("  %-8s %s  %s", wt.Status, wt.TaskID, wt.Branch)
			if wt.CriticStatus != "" {
				line += fmt.Sprintf("  review: %s (#%d)", wt.CriticStatus, wt.CriticIteration)
			}
			fmt.Println(line)
		}
	}

	assignments, err := a.db.ListAssignments(plan.ID)
	if err != nil {
		return err
	}
	if len(assignments) > 0 {
		fmt.Println("\nAssignments:")
		for _, as := range assignments {
			fmt.Printf("  %-12s %s -> agent %s\n", as.Status, as.BeadID, as.AgentID)
		}
	}

	activities, err := a.db.ListActivities(plan.ID, 10)
	if err != nil {
		return err
	}
	if len(activities) > 0 {
		fmt.Println("\nRecent activity:")
		for _, act := range activities {
			fmt.Printf("  %s  %s\n", act.CreatedAt.Format("01-02 15:04:05"), act.Message)
		}
	}
	return nil
}

func runPlanDiscuss(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.orch.MarkDiscussed(args[0], planDiscussNotes); err != nil {
		return err
	}
	color.Green("Plan %s marked discussed", args[0])
	return nil
}

func runPlanDelegate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := a.orch.StartDelegation(args[0])
	if err != nil {
		return err
	}
	color.Green("Plan %s is %s", plan.ID, plan.Status)
	fmt.Println("Start 'planfleet run' to dispatch its tasks.")
	return nil
}

func runPlanComplete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := a.orch.CompletePlan(context.Background(), args[0])
	if err != nil {
		return err
	}
	color.Green("Plan %s completed; worktrees torn down", plan.ID)
	return nil
}

func runPlanClone(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	clone, err := a.orch.ClonePlan(context.Background(), args[0], planCloneWithDiscussion)
	if err != nil {
		return err
	}
	color.Green("Cloned plan %s -> %s", args[0], clone.ID)
	return nil
}

func runPlanDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.DeletePlan(context.Background(), args[0]); err != nil {
		return err
	}
	color.Yellow("Deleted plan %s", args[0])
	return nil
}

// colorStatus renders a plan status with a stable color per phase.
func colorStatus(s models.PlanStatus) string {
	switch s {
	case models.PlanStatusCompleted:
		return color.GreenString(string(s))
	case models.PlanStatusReadyForReview:
		return color.CyanString(string(s))
	case models.PlanStatusInProgress, models.PlanStatusDelegating:
		return color.YellowString(string(s))
	default:
		return strings.ToLower(string(s))
	}
}
