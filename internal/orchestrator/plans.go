package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/store"
	"github.com/planfleet/planfleet/pkg/models"
)

// CreatePlanOptions carries user input for a new plan. Zero fields fall
// back to configured defaults.
type CreatePlanOptions struct {
	Title            string
	Description      string
	BranchStrategy   models.BranchStrategy
	TeamMode         models.TeamMode
	MaxParallel      int
	FeatureBranch    string
	ReferenceAgentID string
}

// CreatePlan records a new plan in draft status.
func (o *Orchestrator) CreatePlan(opts CreatePlanOptions) (*models.Plan, error) {
	if opts.Title == "" {
		return nil, fmt.Errorf("plan title is required")
	}
	if opts.BranchStrategy == "" {
		opts.BranchStrategy = models.BranchStrategyFeatureBranch
	}
	if !opts.BranchStrategy.Valid() {
		return nil, fmt.Errorf("invalid branch strategy %q", opts.BranchStrategy)
	}
	if opts.TeamMode == "" {
		opts.TeamMode = models.TeamModeTopDown
	}
	if !opts.TeamMode.Valid() {
		return nil, fmt.Errorf("invalid team mode %q", opts.TeamMode)
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = o.config().Agents.MaxParallel
	}

	now := time.Now()
	plan := &models.Plan{
		ID:                uuid.New().String(),
		Title:             opts.Title,
		Description:       opts.Description,
		Status:            models.PlanStatusDraft,
		ReferenceAgentID:  opts.ReferenceAgentID,
		MaxParallelAgents: opts.MaxParallel,
		BranchStrategy:    opts.BranchStrategy,
		TeamMode:          opts.TeamMode,
		FeatureBranch:     opts.FeatureBranch,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.db.SavePlan(plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}

	o.emitter.Emit(Event{Type: EventPlanUpdated, PlanID: plan.ID, Plan: plan})
	o.logActivity(plan.ID, models.ActivityInfo, "", "plan %q created", plan.Title)
	return plan, nil
}

// TaskSeed describes one task to create when seeding a plan's graph.
// Dependencies reference other seeds by title.
type TaskSeed struct {
	Title     string
	Repo      string
	DependsOn []string
	// Optional tasks carry the deferred-exempt label and do not block
	// plan completion.
	Optional bool
}

// SeedTasks creates the plan's task graph in the task store and marks
// every task ready. Dependency titles must match earlier or later seeds.
func (o *Orchestrator) SeedTasks(ctx context.Context, planID string, seeds []TaskSeed) ([]string, error) {
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	idByTitle := make(map[string]string, len(seeds))
	ids := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if seed.Title == "" {
			return nil, fmt.Errorf("task title is required")
		}
		repo := seed.Repo
		if repo == "" {
			repo = DefaultRepoID
		}
		labels := []string{
			beads.LabelPlanPrefix + planID,
			beads.LabelRepoPrefix + repo,
		}
		if seed.Optional {
			labels = append(labels, beads.LabelDeferredExempt)
		}
		if plan.TeamMode == models.TeamModeBottomUp {
			labels = append(labels, beads.LabelNeedsTriage)
		}

		id, err := o.beads.Create(ctx, seed.Title, beads.TaskTypeWork, labels)
		if err != nil {
			return nil, fmt.Errorf("create task %q: %w", seed.Title, err)
		}
		idByTitle[seed.Title] = id
		ids = append(ids, id)
	}

	for i, seed := range seeds {
		for _, depTitle := range seed.DependsOn {
			depID, ok := idByTitle[depTitle]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", seed.Title, depTitle)
			}
			if err := o.beads.AddDependency(ctx, depID, ids[i]); err != nil {
				return nil, fmt.Errorf("add dependency %q -> %q: %w", depTitle, seed.Title, err)
			}
		}
	}

	// Bottom-up seeds stay open; the manager agent releases them after
	// triage. Top-down seeds are dispatchable immediately.
	if plan.TeamMode != models.TeamModeBottomUp {
		for _, id := range ids {
			if err := o.beads.MarkReady(ctx, id); err != nil {
				return nil, fmt.Errorf("mark task %s ready: %w", id, err)
			}
		}
	}

	o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: planID})
	o.logActivity(planID, models.ActivityInfo, "", "seeded %d task(s)", len(ids))
	return ids, nil
}

// MarkDiscussed moves a draft plan to discussed, recording the discussion
// notes on the plan when provided.
func (o *Orchestrator) MarkDiscussed(planID, notes string) (*models.Plan, error) {
	plan, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if p.Status != models.PlanStatusDraft {
			return fmt.Errorf("plan is %s, expected %s", p.Status, models.PlanStatusDraft)
		}
		p.Status = models.PlanStatusDiscussed
		if notes != "" {
			p.Discussion = notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logActivity(planID, models.ActivityStatus, "", "plan discussed")
	return plan, nil
}

// StartDelegation moves a plan into delegating and begins polling it.
func (o *Orchestrator) StartDelegation(planID string) (*models.Plan, error) {
	plan, err := o.mutatePlan(planID, func(p *models.Plan) error {
		switch p.Status {
		case models.PlanStatusDraft, models.PlanStatusDiscussed:
			p.Status = models.PlanStatusDelegating
			return nil
		default:
			return fmt.Errorf("plan is %s, cannot start delegation", p.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	o.logActivity(planID, models.ActivityStatus, "", "delegation started")
	o.startPoller(planID)
	return plan, nil
}

// CompletePlan finishes a plan under review: agents are stopped, every
// worktree is torn down, and the plan moves to completed. This is the only
// path into the completed status.
func (o *Orchestrator) CompletePlan(ctx context.Context, planID string) (*models.Plan, error) {
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanStatusReadyForReview {
		return nil, fmt.Errorf("plan is %s, expected %s", plan.Status, models.PlanStatusReadyForReview)
	}

	o.stopPoller(planID)
	o.registry.StopAll(planID)
	o.teardownWorktrees(plan)

	updated, err := o.mutatePlan(planID, func(p *models.Plan) error {
		p.Status = models.PlanStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logActivity(planID, models.ActivityStatus, "", "plan completed")
	return updated, nil
}

// DeletePlan removes a plan entirely: agents stopped, worktrees torn down,
// plan and its assignments and activities deleted. Deleting a plan that is
// already gone is a no-op.
func (o *Orchestrator) DeletePlan(ctx context.Context, planID string) error {
	plan, err := o.db.GetPlan(planID)
	if errors.Is(err, store.ErrPlanNotFound) {
		o.logger.Logf("delete plan %s: already deleted", planID)
		return nil
	}
	if err != nil {
		return err
	}

	o.stopPoller(planID)
	o.registry.StopAll(planID)
	o.teardownWorktrees(plan)

	if err := o.db.DeletePlan(planID); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.planLocks, planID)
	o.mu.Unlock()

	o.emitter.Emit(Event{Type: EventPlanDeleted, PlanID: planID})
	return nil
}

// ClonePlan duplicates a plan and its task graph under fresh IDs. Cloned
// tasks start over: closed source tasks come back as ready work, and no
// worktrees or assignments carry across. The clone starts in draft; when
// includeDiscussion is set the source plan's discussion notes carry over.
func (o *Orchestrator) ClonePlan(ctx context.Context, planID string, includeDiscussion bool) (*models.Plan, error) {
	src, err := o.db.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	clone, err := o.CreatePlan(CreatePlanOptions{
		Title:          src.Title + " (copy)",
		Description:    src.Description,
		BranchStrategy: src.BranchStrategy,
		TeamMode:       src.TeamMode,
		MaxParallel:    src.MaxParallelAgents,
	})
	if err != nil {
		return nil, err
	}

	if includeDiscussion && src.Discussion != "" {
		clone, err = o.mutatePlan(clone.ID, func(p *models.Plan) error {
			p.Discussion = src.Discussion
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("copy discussion: %w", err)
		}
	}

	tasks, err := o.beads.List(ctx, beads.Filter{Labels: []string{beads.LabelPlanPrefix + planID}})
	if err != nil {
		return nil, fmt.Errorf("list source tasks: %w", err)
	}

	idMap := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.Type == beads.TaskTypeReview || t.Type == beads.TaskTypeFixup {
			// Review rounds and their fixups belong to the source plan's
			// history, not the fresh graph.
			continue
		}
		labels := make([]string, 0, len(t.Labels))
		for _, l := range t.Labels {
			if l == beads.LabelPlanPrefix+planID {
				l = beads.LabelPlanPrefix + clone.ID
			}
			labels = append(labels, l)
		}
		newID, err := o.beads.Create(ctx, t.Title, t.Type, labels)
		if err != nil {
			return nil, fmt.Errorf("clone task %q: %w", t.Title, err)
		}
		idMap[t.ID] = newID
	}

	for _, t := range tasks {
		newID, ok := idMap[t.ID]
		if !ok {
			continue
		}
		for _, dep := range t.BlockedBy {
			newDep, ok := idMap[dep]
			if !ok {
				continue
			}
			if err := o.beads.AddDependency(ctx, newDep, newID); err != nil {
				return nil, fmt.Errorf("clone dependency for %q: %w", t.Title, err)
			}
		}
		if t.Status != beads.TaskStatusOpen {
			if err := o.beads.MarkReady(ctx, newID); err != nil {
				return nil, fmt.Errorf("mark cloned task ready: %w", err)
			}
		}
	}

	o.logActivity(clone.ID, models.ActivityInfo, "",
		"cloned from plan %s with %d task(s)", planID, len(idMap))
	return clone, nil
}

// CleanupWorktree tears down one worktree ahead of plan completion, freeing
// its parallelism slot. The agent running in it, if any, is stopped first.
func (o *Orchestrator) CleanupWorktree(ctx context.Context, planID, taskID string) error {
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		return err
	}
	wt := plan.WorktreeForTask(taskID)
	if wt == nil {
		return fmt.Errorf("no worktree for task %s", taskID)
	}
	if wt.Status != models.WorktreeStatusActive {
		return nil
	}

	if h := o.registry.ForTask(planID, taskID); h != nil {
		h.Stop()
	}
	o.removeWorktree(wt)

	if _, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if w := p.WorktreeForTask(taskID); w != nil {
			w.Status = models.WorktreeStatusCleaned
		}
		return nil
	}); err != nil {
		return err
	}
	o.logActivity(planID, models.ActivityInfo, taskID, "worktree for task %s cleaned", taskID)
	return nil
}

// teardownWorktrees removes every active worktree of a plan and prunes the
// repositories they were carved from. Removal failures are logged and the
// worktree still marked cleaned; prune catches stragglers later.
func (o *Orchestrator) teardownWorktrees(plan *models.Plan) {
	repoIDs := make(map[string]bool)
	for _, wt := range plan.Worktrees {
		if wt.Status != models.WorktreeStatusActive {
			continue
		}
		o.removeWorktree(wt)
		repoIDs[wt.RepositoryID] = true
	}

	if _, err := o.mutatePlan(plan.ID, func(p *models.Plan) error {
		for _, wt := range p.Worktrees {
			if wt.Status == models.WorktreeStatusActive {
				wt.Status = models.WorktreeStatusCleaned
			}
		}
		return nil
	}); err != nil {
		o.logger.Logf("mark worktrees cleaned for plan %s: %v", plan.ID, err)
	}

	for repoID := range repoIDs {
		root, ok := o.repoRoot(repoID)
		if !ok {
			continue
		}
		lock := o.repoLock(repoID)
		lock.Lock()
		if err := o.newGit(root).WorktreePrune(); err != nil {
			o.logger.Logf("prune worktrees in %s: %v", repoID, err)
		}
		lock.Unlock()
	}
}

// removeWorktree deletes one worktree from its repository.
func (o *Orchestrator) removeWorktree(wt *models.PlanWorktree) {
	root, ok := o.repoRoot(wt.RepositoryID)
	if !ok {
		o.logger.Logf("remove worktree %s: unknown repository %q", wt.Path, wt.RepositoryID)
		return
	}
	lock := o.repoLock(wt.RepositoryID)
	lock.Lock()
	defer lock.Unlock()
	if err := o.newGit(root).WorktreeRemove(wt.Path, true); err != nil {
		o.logger.Logf("remove worktree %s: %v", wt.Path, err)
	}
}
