package store

import (
	"errors"
	"testing"
	"time"

	"github.com/planfleet/planfleet/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPlan(id string) *models.Plan {
	now := time.Now()
	return &models.Plan{
		ID:                id,
		Title:             "Add search",
		Status:            models.PlanStatusDraft,
		MaxParallelAgents: 4,
		BranchStrategy:    models.BranchStrategyFeatureBranch,
		TeamMode:          models.TeamModeTopDown,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestPlanRoundTrip(t *testing.T) {
	db := openTestDB(t)

	plan := testPlan("p1")
	plan.Description = "full-text search across repos"
	plan.Discussion = "agreed to index per repo"
	plan.FeatureBranch = "planfleet/add-search"
	plan.Worktrees = []*models.PlanWorktree{{
		ID:           "wt1",
		PlanID:       "p1",
		TaskID:       "bead-1",
		RepositoryID: "default",
		Path:         "/tmp/wt/p1/bead-1",
		Branch:       "planfleet/task-bead-1",
		BaseBranch:   "planfleet/add-search",
		Status:       models.WorktreeStatusActive,
		BlockedBy:    []string{"bead-0"},
		CreatedAt:    time.Now(),
	}}
	if err := db.SavePlan(plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.GetPlan("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != plan.Title || got.FeatureBranch != plan.FeatureBranch {
		t.Errorf("plan fields lost: %+v", got)
	}
	if got.Discussion != plan.Discussion {
		t.Errorf("discussion = %q, want %q", got.Discussion, plan.Discussion)
	}
	if len(got.Worktrees) != 1 {
		t.Fatalf("worktrees = %d, want 1", len(got.Worktrees))
	}
	wt := got.Worktrees[0]
	if wt.Branch != "planfleet/task-bead-1" || wt.BaseBranch != "planfleet/add-search" {
		t.Errorf("worktree branches lost: %+v", wt)
	}
	if len(wt.BlockedBy) != 1 || wt.BlockedBy[0] != "bead-0" {
		t.Errorf("blocked_by = %v, want [bead-0]", wt.BlockedBy)
	}
}

func TestSavePlanUpsertsWorktreeState(t *testing.T) {
	db := openTestDB(t)

	plan := testPlan("p1")
	plan.Worktrees = []*models.PlanWorktree{{
		ID: "wt1", PlanID: "p1", TaskID: "bead-1", RepositoryID: "default",
		Path: "/tmp/wt", Branch: "b", BaseBranch: "main",
		Status: models.WorktreeStatusActive, CreatedAt: time.Now(),
	}}
	if err := db.SavePlan(plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	plan.Worktrees[0].CriticStatus = models.CriticStatusApproved
	plan.Worktrees[0].CriticIteration = 2
	plan.Worktrees[0].Status = models.WorktreeStatusCleaned
	if err := db.SavePlan(plan); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := db.GetPlan("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	wt := got.Worktrees[0]
	if wt.CriticStatus != models.CriticStatusApproved || wt.CriticIteration != 2 {
		t.Errorf("critic state not updated: %+v", wt)
	}
	if wt.Status != models.WorktreeStatusCleaned {
		t.Errorf("status = %s, want cleaned", wt.Status)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetPlan("missing"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestListActivePlans(t *testing.T) {
	db := openTestDB(t)

	draft := testPlan("draft")
	running := testPlan("running")
	running.Status = models.PlanStatusInProgress
	done := testPlan("done")
	done.Status = models.PlanStatusCompleted
	for _, p := range []*models.Plan{draft, running, done} {
		if err := db.SavePlan(p); err != nil {
			t.Fatalf("save %s: %v", p.ID, err)
		}
	}

	active, err := db.ListActivePlans()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "running" {
		t.Fatalf("active = %v, want [running]", planIDs(active))
	}
}

func planIDs(plans []*models.Plan) []string {
	ids := make([]string, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	return ids
}

func TestCreateAssignmentRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePlan(testPlan("p1")); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	a := &models.TaskAssignment{
		BeadID: "bead-1", PlanID: "p1", AgentID: "agent-1",
		Status: models.AssignmentStatusPending, AssignedAt: time.Now(),
	}
	if err := db.CreateAssignment(a); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &models.TaskAssignment{
		BeadID: "bead-1", PlanID: "p1", AgentID: "agent-2",
		Status: models.AssignmentStatusPending, AssignedAt: time.Now(),
	}
	if err := db.CreateAssignment(dup); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("err = %v, want ErrAlreadyAssigned", err)
	}

	got, err := db.GetAssignment("p1", "bead-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Errorf("agent = %s, original assignment overwritten", got.AgentID)
	}
}

func TestAssignmentCompletionTimestamp(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePlan(testPlan("p1")); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	a := &models.TaskAssignment{
		BeadID: "bead-1", PlanID: "p1", AgentID: "agent-1",
		Status: models.AssignmentStatusPending, AssignedAt: time.Now(),
	}
	if err := db.CreateAssignment(a); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := db.UpdateAssignmentStatus("p1", "bead-1", models.AssignmentStatusCompleted); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := db.GetAssignment("p1", "bead-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AssignmentStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}
}

func TestDeletePlanCascades(t *testing.T) {
	db := openTestDB(t)

	plan := testPlan("p1")
	plan.Worktrees = []*models.PlanWorktree{{
		ID: "wt1", PlanID: "p1", TaskID: "bead-1", RepositoryID: "default",
		Path: "/tmp/wt", Branch: "b", BaseBranch: "main",
		Status: models.WorktreeStatusActive, CreatedAt: time.Now(),
	}}
	if err := db.SavePlan(plan); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.CreateAssignment(&models.TaskAssignment{
		BeadID: "bead-1", PlanID: "p1", AgentID: "a1",
		Status: models.AssignmentStatusPending, AssignedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := db.AppendActivity(&models.Activity{
		PlanID: "p1", Kind: models.ActivityInfo, Message: "created", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("append activity: %v", err)
	}

	if err := db.DeletePlan("p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeletePlan("p1"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("second delete err = %v, want ErrPlanNotFound", err)
	}

	assignments, err := db.ListAssignments("p1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Errorf("assignments survived plan delete: %d", len(assignments))
	}
	activities, err := db.ListActivities("p1", 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("activities survived plan delete: %d", len(activities))
	}
}

func TestListActivitiesLimitAndOrder(t *testing.T) {
	db := openTestDB(t)
	if err := db.SavePlan(testPlan("p1")); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	for _, msg := range []string{"first", "second", "third"} {
		if err := db.AppendActivity(&models.Activity{
			PlanID: "p1", Kind: models.ActivityInfo, Message: msg, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("append %s: %v", msg, err)
		}
	}

	recent, err := db.ListActivities("p1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d activities, want 2", len(recent))
	}
	if recent[0].Message != "second" || recent[1].Message != "third" {
		t.Errorf("order = [%s, %s], want oldest-first of the most recent two",
			recent[0].Message, recent[1].Message)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
