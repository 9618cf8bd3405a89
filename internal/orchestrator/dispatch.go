package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/internal/store"
	"github.com/planfleet/planfleet/pkg/models"
)

// dispatchTask hands one unblocked ready task to a fresh agent. The
// assignment record is the commit point: it is written before any
// provisioning, so a concurrent or repeated dispatch of the same task
// finds it and becomes a no-op.
func (o *Orchestrator) dispatchTask(ctx context.Context, planID string, task *beads.Task) {
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		o.logger.Logf("dispatch task %s: load plan: %v", task.ID, err)
		return
	}
	if !plan.Status.Active() {
		return
	}

	existing, err := o.db.GetAssignment(planID, task.ID)
	if err != nil {
		o.logger.Logf("dispatch task %s: check assignment: %v", task.ID, err)
		return
	}
	if existing != nil {
		return
	}

	// Fixup tasks run in the worktree of the task they fix; a task that
	// already has a worktree reuses it rather than getting a second one.
	reuseTaskID := task.LabelValue(beads.LabelWorktreePrefix)
	if reuseTaskID == "" && plan.WorktreeForTask(task.ID) != nil {
		reuseTaskID = task.ID
	}

	var wt *models.PlanWorktree
	if reuseTaskID != "" {
		wt = plan.WorktreeForTask(reuseTaskID)
		if wt == nil || wt.Status != models.WorktreeStatusActive {
			o.logActivity(planID, models.ActivityError, task.ID,
				"task %s needs the worktree of task %s, which is gone", task.ID, reuseTaskID)
			return
		}
	} else if !o.canSpawnMoreAgents(plan) {
		// At the parallelism cap; the task stays ready for a later cycle.
		return
	}

	agentID := uuid.New().String()
	assignment := &models.TaskAssignment{
		BeadID:     task.ID,
		AgentID:    agentID,
		PlanID:     planID,
		Status:     models.AssignmentStatusPending,
		AssignedAt: time.Now(),
	}
	if err := o.db.CreateAssignment(assignment); err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			// Lost the race to a concurrent dispatch.
			return
		}
		o.logger.Logf("dispatch task %s: create assignment: %v", task.ID, err)
		return
	}
	o.emitter.Emit(Event{Type: EventAssignmentUpdated, PlanID: planID, TaskID: task.ID, AgentID: agentID, Assignment: assignment})

	if wt == nil {
		wt, err = o.provisionWorktree(ctx, plan, task)
		if err != nil {
			// Roll back the commit point so the next cycle retries.
			if delErr := o.db.DeleteAssignment(planID, task.ID); delErr != nil {
				o.logger.Logf("dispatch task %s: roll back assignment: %v", task.ID, delErr)
			}
			if !errors.Is(err, errAtCapacity) {
				o.logActivity(planID, models.ActivityError, task.ID,
					"provision worktree for task %s: %v", task.ID, err)
			}
			return
		}
	}

	o.logActivity(planID, models.ActivityDispatch, task.ID,
		"dispatched %q to agent %s", task.Title, agentID)
	o.startTaskAgent(ctx, planID, task, wt, agentID)
}

// startTaskAgent launches the container for a dispatched task and watches
// it to completion.
func (o *Orchestrator) startTaskAgent(ctx context.Context, planID string, task *beads.Task, wt *models.PlanWorktree, agentID string) {
	cfg := o.config()
	opts := runtime.StartOptions{
		Prompt:     buildTaskPrompt(task),
		WorkingDir: wt.Path,
		PlanID:     planID,
		TaskID:     task.ID,
		Image:      cfg.Runtime.Image,
		Model:      cfg.Agents.Model,
		Flags:      cfg.Runtime.ExtraFlags,
	}

	h := runtime.NewHandle(agentID, task.ID, planID, models.AgentTypeTask, o.containers, opts, cfg.Runtime.StopGrace, o)
	o.registry.Register(h)

	if err := h.Start(ctx); err != nil {
		o.registry.Remove(h.ID())
		if delErr := o.db.DeleteAssignment(planID, task.ID); delErr != nil {
			o.logger.Logf("start agent for task %s: roll back assignment: %v", task.ID, delErr)
		}
		o.logActivity(planID, models.ActivityError, task.ID,
			"start agent for task %s: %v", task.ID, err)
		return
	}

	if err := o.db.UpdateAssignmentStatus(planID, task.ID, models.AssignmentStatusSent); err != nil {
		o.logger.Logf("mark assignment sent for task %s: %v", task.ID, err)
	}
	if _, err := o.mutatePlan(planID, func(p *models.Plan) error {
		if w := p.WorktreeForTask(wt.TaskID); w != nil {
			w.AgentID = agentID
		}
		return nil
	}); err != nil {
		o.logger.Logf("record agent on worktree for task %s: %v", task.ID, err)
	}

	wtTaskID := wt.TaskID
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-h.Done()
		o.handleTaskAgentExit(context.Background(), planID, task, wtTaskID, h)
	}()
}

// handleTaskAgentExit processes a task agent reaching a terminal status.
// Success feeds the critic pipeline; failure is recorded and the worktree
// kept for inspection.
func (o *Orchestrator) handleTaskAgentExit(ctx context.Context, planID string, task *beads.Task, wtTaskID string, h *runtime.Handle) {
	o.registry.Remove(h.ID())

	res := h.Result()
	if res == nil || !res.Success {
		msg := "unknown failure"
		if res != nil && res.Error != "" {
			msg = res.Error
		} else if res != nil {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		o.logActivity(planID, models.ActivityError, task.ID,
			"agent for %q failed: %s", task.Title, msg)
		return
	}

	if task.Type == beads.TaskTypeFixup || task.LabelValue(beads.LabelWorktreePrefix) != "" {
		// A finished fixup closes itself and sends the original task's
		// worktree back through review.
		if err := o.beads.Close(ctx, task.ID); err != nil {
			o.logger.Logf("close fixup task %s: %v", task.ID, err)
		}
		if err := o.db.UpdateAssignmentStatus(planID, task.ID, models.AssignmentStatusCompleted); err != nil {
			o.logger.Logf("complete fixup assignment %s: %v", task.ID, err)
		}
		o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: planID, TaskID: task.ID})
	}

	plan, err := o.db.GetPlan(planID)
	if err != nil {
		o.logger.Logf("load plan %s after agent exit: %v", planID, err)
		return
	}
	wt := plan.WorktreeForTask(wtTaskID)
	if wt == nil {
		o.logger.Logf("no worktree for task %s after agent exit", wtTaskID)
		return
	}
	o.maybeStartReview(ctx, planID, wt)
}
