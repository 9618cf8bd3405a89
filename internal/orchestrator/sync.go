package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/pkg/models"
)

// syncPlan runs one full sync cycle for a plan: it reconciles assignment
// state against closed tasks, dispatches every unblocked ready task, runs
// the bottom-up ephemeral agents, and reduces plan status. It returns false
// once the plan has left the polled statuses.
//
// Task-store calls may fail transiently; every fetch error aborts the cycle
// and the next tick retries from scratch.
func (o *Orchestrator) syncPlan(ctx context.Context, planID string) (bool, error) {
	plan, err := o.db.GetPlan(planID)
	if err != nil {
		return false, err
	}
	if !plan.Status.Active() {
		return false, nil
	}

	planLabel := beads.LabelPlanPrefix + planID
	ready, err := o.beads.List(ctx, beads.Filter{Status: beads.TaskStatusReady, Labels: []string{planLabel}})
	if err != nil {
		return true, fmt.Errorf("list ready tasks: %w", err)
	}
	open, err := o.beads.List(ctx, beads.Filter{Status: beads.TaskStatusOpen, Labels: []string{planLabel}})
	if err != nil {
		return true, fmt.Errorf("list open tasks: %w", err)
	}
	closed, err := o.beads.List(ctx, beads.Filter{Status: beads.TaskStatusClosed, Labels: []string{planLabel}})
	if err != nil {
		return true, fmt.Errorf("list closed tasks: %w", err)
	}

	closedSet := make(map[string]bool, len(closed))
	for _, t := range closed {
		closedSet[t.ID] = true
	}

	o.reconcileAssignments(ctx, plan, closedSet)

	dispatchable, deferred := partitionReady(ready, closedSet)

	o.observeStagnation(plan, deferred)
	o.maybeCheckCycles(ctx, plan, append(append([]*beads.Task{}, ready...), open...))

	for _, task := range dispatchable {
		if task.Type == beads.TaskTypeReview {
			// Review tasks exist as dependency blockers; the critic
			// pipeline runs their agents directly.
			continue
		}
		if task.HasLabel(beads.LabelNeedsTriage) || task.HasLabel(beads.LabelNeedsDecomposition) {
			// Not dispatchable until the helper agents finish with it.
			continue
		}
		t := task
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.dispatchTask(ctx, planID, t)
		}()
	}

	if plan.TeamMode == models.TeamModeBottomUp {
		o.runEphemeralAgents(ctx, plan, append(append([]*beads.Task{}, ready...), open...))
	}

	return o.reducePlan(ctx, plan, ready, open, closed, len(dispatchable))
}

// partitionReady splits ready tasks into dispatchable ones (every blocker
// closed) and deferred ones still waiting on a blocker.
func partitionReady(ready []*beads.Task, closedSet map[string]bool) (dispatchable, deferred []*beads.Task) {
	for _, t := range ready {
		blocked := false
		for _, dep := range t.BlockedBy {
			if !closedSet[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			deferred = append(deferred, t)
		} else {
			dispatchable = append(dispatchable, t)
		}
	}
	return dispatchable, deferred
}

// reconcileAssignments folds task-store closes back into assignment state
// and recovers assignments that never produced a live agent.
func (o *Orchestrator) reconcileAssignments(ctx context.Context, plan *models.Plan, closedSet map[string]bool) {
	assignments, err := o.db.ListAssignments(plan.ID)
	if err != nil {
		o.logger.Logf("list assignments for plan %s: %v", plan.ID, err)
		return
	}

	staleAge := o.config().Poller.StaleAssignmentAge
	for _, a := range assignments {
		if !a.Status.Open() {
			continue
		}

		if closedSet[a.BeadID] {
			if err := o.db.UpdateAssignmentStatus(plan.ID, a.BeadID, models.AssignmentStatusCompleted); err != nil {
				o.logger.Logf("complete assignment %s: %v", a.BeadID, err)
				continue
			}
			// A still-running agent gets the grace period, then a stop.
			if h := o.registry.ForTask(plan.ID, a.BeadID); h != nil {
				h.MarkTaskClosed()
			}
			o.emitter.Emit(Event{Type: EventAssignmentUpdated, PlanID: plan.ID, TaskID: a.BeadID, AgentID: a.AgentID})
			continue
		}

		// A pending assignment past the stale age with no live agent means
		// provisioning died between the commit point and agent start.
		// Deleting it lets the task dispatch again next cycle.
		if a.Status == models.AssignmentStatusPending &&
			time.Since(a.AssignedAt) > staleAge &&
			o.registry.ForTask(plan.ID, a.BeadID) == nil {
			if err := o.db.DeleteAssignment(plan.ID, a.BeadID); err != nil {
				o.logger.Logf("recover stale assignment %s: %v", a.BeadID, err)
				continue
			}
			o.logActivity(plan.ID, models.ActivityWarning, a.BeadID,
				"recovered stale assignment for task %s; it will be redispatched", a.BeadID)
		}
	}
}

// maybeCheckCycles runs dependency-cycle detection, at most once per
// configured interval, and warns about cycles touching any of the plan's
// ready or open tasks. Tasks stuck in a cycle never become ready, so the
// open set has to be part of the involvement check.
func (o *Orchestrator) maybeCheckCycles(ctx context.Context, plan *models.Plan, tasks []*beads.Task) {
	interval := o.config().Poller.CycleCheckInterval
	now := time.Now()

	o.mu.Lock()
	last, ok := o.lastCycleCheck[plan.ID]
	if ok && now.Sub(last) < interval {
		o.mu.Unlock()
		return
	}
	o.lastCycleCheck[plan.ID] = now
	o.mu.Unlock()

	cycles, err := o.beads.DetectCycles(ctx)
	if err != nil {
		o.logger.Logf("detect cycles for plan %s: %v", plan.ID, err)
		return
	}
	if len(cycles) == 0 {
		return
	}

	planTasks := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		planTasks[t.ID] = true
	}
	for _, cycle := range cycles {
		involved := false
		for _, id := range cycle {
			if planTasks[id] {
				involved = true
				break
			}
		}
		if involved {
			path := strings.Join(cycle, " -> ")
			o.logActivity(plan.ID, models.ActivityWarning, "",
				"dependency cycle detected: %s", path)
			o.emitter.Emit(Event{
				Type:    EventCycleWarning,
				PlanID:  plan.ID,
				Message: path,
			})
		}
	}
}
