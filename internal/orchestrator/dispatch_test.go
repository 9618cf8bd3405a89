package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/pkg/models"
)

func TestDispatchIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)
	taskID := env.beads.addReadyTask(plan.ID, "Implement parser")

	ctx := context.Background()
	task, err := env.beads.Get(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}

	env.orch.dispatchTask(ctx, plan.ID, task)
	env.orch.dispatchTask(ctx, plan.ID, task)

	assignments, err := env.db.ListAssignments(plan.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}
	if len(env.runner.started()) != 1 {
		t.Fatalf("expected 1 agent start, got %d", len(env.runner.started()))
	}

	got, err := env.db.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if len(got.Worktrees) != 1 {
		t.Fatalf("expected 1 worktree, got %d", len(got.Worktrees))
	}
	wt := got.Worktrees[0]
	if wt.TaskID != taskID || wt.Status != models.WorktreeStatusActive {
		t.Errorf("unexpected worktree: %+v", wt)
	}
	if wt.BaseBranch != got.FeatureBranch {
		t.Errorf("worktree base %q, want feature branch %q", wt.BaseBranch, got.FeatureBranch)
	}
}

func TestDispatchRespectsParallelismCap(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)
	if _, err := env.orch.mutatePlan(plan.ID, func(p *models.Plan) error {
		p.MaxParallelAgents = 1
		return nil
	}); err != nil {
		t.Fatalf("set cap: %v", err)
	}

	first := env.beads.addReadyTask(plan.ID, "First task")
	second := env.beads.addReadyTask(plan.ID, "Second task")

	ctx := context.Background()
	for _, id := range []string{first, second} {
		task, err := env.beads.Get(ctx, id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		env.orch.dispatchTask(ctx, plan.ID, task)
	}

	assignments, err := env.db.ListAssignments(plan.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment at cap 1, got %d", len(assignments))
	}
	if assignments[0].BeadID != first {
		t.Errorf("expected %s dispatched first, got %s", first, assignments[0].BeadID)
	}

	// Tearing the worktree down frees the slot for the second task.
	if err := env.orch.CleanupWorktree(ctx, plan.ID, first); err != nil {
		t.Fatalf("cleanup worktree: %v", err)
	}
	task, err := env.beads.Get(ctx, second)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	env.orch.dispatchTask(ctx, plan.ID, task)

	assignments, err = env.db.ListAssignments(plan.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments after cleanup, got %d", len(assignments))
	}
}

func TestDispatchFixupReusesWorktree(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)
	orig := env.beads.addReadyTask(plan.ID, "Original task")

	ctx := context.Background()
	task, err := env.beads.Get(ctx, orig)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	env.orch.dispatchTask(ctx, plan.ID, task)

	fixupID, err := env.beads.Create(ctx, "Fix missing tests", beads.TaskTypeFixup, []string{
		beads.LabelPlanPrefix + plan.ID,
		beads.LabelWorktreePrefix + orig,
		beads.LabelRepoPrefix + DefaultRepoID,
	})
	if err != nil {
		t.Fatalf("create fixup: %v", err)
	}
	if err := env.beads.MarkReady(ctx, fixupID); err != nil {
		t.Fatalf("mark fixup ready: %v", err)
	}
	fixup, err := env.beads.Get(ctx, fixupID)
	if err != nil {
		t.Fatalf("get fixup: %v", err)
	}
	env.orch.dispatchTask(ctx, plan.ID, fixup)

	procs := env.runner.started()
	if len(procs) != 2 {
		t.Fatalf("expected 2 agent starts, got %d", len(procs))
	}
	if procs[1].opts.WorkingDir != procs[0].opts.WorkingDir {
		t.Errorf("fixup ran in %s, want original worktree %s",
			procs[1].opts.WorkingDir, procs[0].opts.WorkingDir)
	}

	got, err := env.db.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if len(got.Worktrees) != 1 {
		t.Fatalf("fixup dispatch created a worktree: %d total", len(got.Worktrees))
	}
}

func TestReconcileCompletesClosedAssignments(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)
	taskID := env.beads.addReadyTask(plan.ID, "Closable task")

	ctx := context.Background()
	task, err := env.beads.Get(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	env.orch.dispatchTask(ctx, plan.ID, task)

	if err := env.beads.Close(ctx, taskID); err != nil {
		t.Fatalf("close task: %v", err)
	}
	env.orch.reconcileAssignments(ctx, plan, map[string]bool{taskID: true})

	a, err := env.db.GetAssignment(plan.ID, taskID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if a == nil || a.Status != models.AssignmentStatusCompleted {
		t.Fatalf("expected completed assignment, got %+v", a)
	}

	// The store close overrides the kill: the agent still reports success.
	waitFor(t, time.Second, func() bool {
		procs := env.runner.started()
		if len(procs) != 1 {
			return false
		}
		select {
		case <-procs[0].exited:
			return true
		default:
			return false
		}
	}, "agent stop after task close")
}

func TestStaleAssignmentRecovery(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)
	taskID := env.beads.addReadyTask(plan.ID, "Stuck task")

	stale := &models.TaskAssignment{
		BeadID:     taskID,
		AgentID:    "gone-agent",
		PlanID:     plan.ID,
		Status:     models.AssignmentStatusPending,
		AssignedAt: time.Now().Add(-time.Minute),
	}
	if err := env.db.CreateAssignment(stale); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	env.orch.reconcileAssignments(context.Background(), plan, map[string]bool{})

	a, err := env.db.GetAssignment(plan.ID, taskID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if a != nil {
		t.Fatalf("expected stale assignment removed, got %+v", a)
	}

	activities, err := env.db.ListActivities(plan.ID, 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	found := false
	for _, act := range activities {
		if act.Kind == models.ActivityWarning && act.TaskID == taskID {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning activity for the recovered assignment")
	}
}

func TestSyncDispatchesUnblockedTasks(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Critics.Enabled = false
	plan := env.makePlan(t, models.PlanStatusInProgress)

	blocker := env.beads.addReadyTask(plan.ID, "Blocker")
	blocked := env.beads.addReadyTask(plan.ID, "Blocked", blocker)

	env.runner.mu.Lock()
	env.runner.script = func(p *fakeProcess) { p.finish(0) }
	env.runner.mu.Unlock()

	ctx := context.Background()
	if _, err := env.orch.syncPlan(ctx, plan.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Only the blocker dispatches; its agent finishes and, with critics
	// off, the task closes. The next sync releases the blocked task.
	waitFor(t, time.Second, func() bool {
		task, err := env.beads.Get(ctx, blocker)
		return err == nil && task.Status == beads.TaskStatusClosed
	}, "blocker to close")

	if _, err := env.orch.syncPlan(ctx, plan.ID); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		a, err := env.db.GetAssignment(plan.ID, blocked)
		return err == nil && a != nil
	}, "blocked task to dispatch")
}
