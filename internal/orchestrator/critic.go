package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/planfleet/planfleet/internal/api"
	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/pkg/models"
)

// maybeStartReview routes a finished worktree into the critic pipeline.
// With critics disabled the task closes straight away. Every failure mode
// inside the pipeline degrades to approval: a broken reviewer must never
// wedge a plan.
func (o *Orchestrator) maybeStartReview(ctx context.Context, planID string, wt *models.PlanWorktree) {
	cfg := o.config()

	if !cfg.Critics.Enabled || cfg.Critics.MaxIterations == 0 {
		if err := o.beads.Close(ctx, wt.TaskID); err != nil {
			o.logger.Logf("close task %s: %v", wt.TaskID, err)
		}
		o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: planID, TaskID: wt.TaskID})
		o.logActivity(planID, models.ActivityInfo, wt.TaskID, "task %s completed", wt.TaskID)
		return
	}

	if wt.CriticIteration >= cfg.Critics.MaxIterations {
		o.approveWorktree(ctx, planID, wt.TaskID, "review rounds exhausted")
		return
	}

	task, err := o.beads.Get(ctx, wt.TaskID)
	if err != nil {
		o.approveWorktree(ctx, planID, wt.TaskID, "could not load task for review: "+err.Error())
		return
	}

	updated, err := o.mutatePlan(planID, func(p *models.Plan) error {
		w := p.WorktreeForTask(wt.TaskID)
		if w == nil {
			return errWorktreeGone
		}
		if w.CriticStatus == models.CriticStatusReviewing {
			// A review round is already open for this worktree.
			return errReviewInFlight
		}
		w.CriticIteration++
		w.CriticStatus = models.CriticStatusReviewing
		return nil
	})
	if err != nil {
		if !errors.Is(err, errReviewInFlight) {
			o.logger.Logf("start review for task %s: %v", wt.TaskID, err)
		}
		return
	}
	wt = updated.WorktreeForTask(wt.TaskID)

	reviewID, err := o.beads.Create(ctx, "Review: "+task.Title, beads.TaskTypeReview, []string{
		beads.LabelPlanPrefix + planID,
		beads.LabelWorktreePrefix + wt.TaskID,
		beads.LabelRepoPrefix + wt.RepositoryID,
	})
	if err != nil {
		o.approveWorktree(ctx, planID, wt.TaskID, "create review task failed: "+err.Error())
		return
	}

	// The review blocks everything the original task blocks, so dependents
	// wait for approval rather than just task closure.
	dependents, err := o.beads.Dependents(ctx, wt.TaskID)
	if err != nil {
		o.logger.Logf("list dependents of task %s: %v", wt.TaskID, err)
	}
	for _, dep := range dependents {
		if err := o.beads.AddDependency(ctx, reviewID, dep); err != nil {
			o.logger.Logf("block dependent %s on review %s: %v", dep, reviewID, err)
		}
	}

	if _, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if w := p.WorktreeForTask(wt.TaskID); w != nil {
			w.CriticTaskID = reviewID
		}
		return nil
	}); err != nil {
		o.logger.Logf("record review task %s: %v", reviewID, err)
	}

	o.logActivity(planID, models.ActivityReview, wt.TaskID,
		"review round %d started for %q", wt.CriticIteration, task.Title)

	if cfg.Critics.UseAPI && o.reviewer != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runAPIReview(context.Background(), planID, wt, task.Title, reviewID)
		}()
		return
	}
	o.startCriticAgent(ctx, planID, wt, task.Title, reviewID)
}

var (
	errWorktreeGone   = errors.New("worktree no longer on plan")
	errReviewInFlight = errors.New("review already in flight")
)

// runAPIReview sends the worktree's diff to the Messages API and applies
// the verdict.
func (o *Orchestrator) runAPIReview(ctx context.Context, planID string, wt *models.PlanWorktree, taskTitle, reviewID string) {
	root, ok := o.repoRoot(wt.RepositoryID)
	if !ok {
		o.finishReview(ctx, planID, wt.TaskID, reviewID, nil, fmt.Errorf("unknown repository %q", wt.RepositoryID))
		return
	}
	diff, err := o.newGit(root).Diff(wt.BaseBranch, wt.Branch)
	if err != nil {
		o.finishReview(ctx, planID, wt.TaskID, reviewID, nil, err)
		return
	}
	result, err := o.reviewer.Review(ctx, taskTitle, diff)
	o.finishReview(ctx, planID, wt.TaskID, reviewID, result, err)
}

// startCriticAgent launches a review agent in the same worktree as the
// task it reviews.
func (o *Orchestrator) startCriticAgent(ctx context.Context, planID string, wt *models.PlanWorktree, taskTitle, reviewID string) {
	cfg := o.config()
	model := cfg.Critics.Model
	if model == "" {
		model = cfg.Agents.Model
	}
	opts := runtime.StartOptions{
		Prompt:     buildCriticPrompt(taskTitle, wt.BaseBranch),
		WorkingDir: wt.Path,
		PlanID:     planID,
		TaskID:     reviewID,
		Image:      cfg.Runtime.Image,
		Model:      model,
		Flags:      cfg.Runtime.ExtraFlags,
	}

	h := runtime.NewHandle("", reviewID, planID, models.AgentTypeCritic, o.containers, opts, cfg.Runtime.StopGrace, o)
	o.registry.Register(h)

	if err := h.Start(ctx); err != nil {
		o.registry.Remove(h.ID())
		o.finishReview(ctx, planID, wt.TaskID, reviewID, nil, err)
		return
	}

	taskID := wt.TaskID
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-h.Done()
		o.registry.Remove(h.ID())

		res := h.Result()
		if res == nil || !res.Success {
			errMsg := "critic agent failed"
			if res != nil && res.Error != "" {
				errMsg = res.Error
			}
			o.finishReview(context.Background(), planID, taskID, reviewID, nil, errors.New(errMsg))
			return
		}
		verdict := api.ParseReview(lastResultMessage(h.Info()))
		o.finishReview(context.Background(), planID, taskID, reviewID, verdict, nil)
	}()
}

// lastResultMessage returns the payload of the agent's final result event.
func lastResultMessage(info models.HeadlessAgentInfo) string {
	for i := len(info.Events) - 1; i >= 0; i-- {
		if info.Events[i].Kind == string(runtime.StreamEventResult) {
			return info.Events[i].Message
		}
	}
	return ""
}

// finishReview applies a review verdict: approval closes the original
// task, rejection creates fixup tasks chained onto the original task's
// dependents. Any error, and any budget overrun, auto-approves.
func (o *Orchestrator) finishReview(ctx context.Context, planID, taskID, reviewID string, result *api.ReviewResult, reviewErr error) {
	if err := o.beads.Close(ctx, reviewID); err != nil {
		o.logger.Logf("close review task %s: %v", reviewID, err)
	}

	if reviewErr != nil {
		o.approveWorktree(ctx, planID, taskID, "review failed: "+reviewErr.Error())
		return
	}
	if result == nil || result.Approved {
		o.approveWorktree(ctx, planID, taskID, "review passed")
		return
	}

	cfg := o.config()
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		o.logger.Logf("load plan %s for review verdict: %v", planID, err)
		return
	}
	wt := plan.WorktreeForTask(taskID)
	if wt == nil {
		o.logger.Logf("no worktree for task %s at review verdict", taskID)
		return
	}

	if wt.TotalFixupCount+len(result.Fixups) > cfg.Critics.MaxFixupsPerTask {
		o.approveWorktree(ctx, planID, taskID, "fixup budget exhausted")
		return
	}

	dependents, err := o.beads.Dependents(ctx, taskID)
	if err != nil {
		o.logger.Logf("list dependents of task %s: %v", taskID, err)
	}

	created := 0
	for _, title := range result.Fixups {
		fixupID, err := o.beads.Create(ctx, title, beads.TaskTypeFixup, []string{
			beads.LabelPlanPrefix + planID,
			beads.LabelWorktreePrefix + taskID,
			beads.LabelRepoPrefix + wt.RepositoryID,
		})
		if err != nil {
			o.approveWorktree(ctx, planID, taskID, "create fixup task failed: "+err.Error())
			return
		}
		for _, dep := range dependents {
			if err := o.beads.AddDependency(ctx, fixupID, dep); err != nil {
				o.logger.Logf("block dependent %s on fixup %s: %v", dep, fixupID, err)
			}
		}
		if err := o.beads.MarkReady(ctx, fixupID); err != nil {
			o.logger.Logf("mark fixup %s ready: %v", fixupID, err)
		}
		created++
	}

	if _, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if w := p.WorktreeForTask(taskID); w != nil {
			w.CriticStatus = models.CriticStatusRejected
			w.CriticTaskID = ""
			w.TotalFixupCount += created
		}
		return nil
	}); err != nil {
		o.logger.Logf("record rejection for task %s: %v", taskID, err)
	}

	o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: planID, TaskID: taskID})
	o.logActivity(planID, models.ActivityReview, taskID,
		"review rejected task %s with %d fixup(s)", taskID, created)
}

// approveWorktree marks a worktree approved and closes its task.
func (o *Orchestrator) approveWorktree(ctx context.Context, planID, taskID, reason string) {
	if _, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if w := p.WorktreeForTask(taskID); w != nil {
			w.CriticStatus = models.CriticStatusApproved
			w.CriticTaskID = ""
		}
		return nil
	}); err != nil {
		o.logger.Logf("record approval for task %s: %v", taskID, err)
	}

	if err := o.beads.Close(ctx, taskID); err != nil {
		o.logger.Logf("close task %s: %v", taskID, err)
	}
	o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: planID, TaskID: taskID})
	o.logActivity(planID, models.ActivityReview, taskID, "task %s approved: %s", taskID, reason)
}
