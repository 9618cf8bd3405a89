package orchestrator

import (
	"context"
	"testing"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/pkg/models"
)

func TestReduceStatus(t *testing.T) {
	tests := []struct {
		name          string
		current       models.PlanStatus
		openNonExempt int
		closed        int
		liveAgents    int
		dispatchable  int
		want          models.PlanStatus
	}{
		{
			name:    "delegating stays without work",
			current: models.PlanStatusDelegating,
			want:    models.PlanStatusDelegating,
		},
		{
			name:          "delegating advances on dispatchable work",
			current:       models.PlanStatusDelegating,
			openNonExempt: 2,
			dispatchable:  1,
			want:          models.PlanStatusInProgress,
		},
		{
			name:       "delegating advances on live agents",
			current:    models.PlanStatusDelegating,
			liveAgents: 1,
			want:       models.PlanStatusInProgress,
		},
		{
			name:    "delegating jumps to review when everything closed",
			current: models.PlanStatusDelegating,
			closed:  3,
			want:    models.PlanStatusReadyForReview,
		},
		{
			name:          "in progress holds while work remains",
			current:       models.PlanStatusInProgress,
			openNonExempt: 1,
			closed:        2,
			want:          models.PlanStatusInProgress,
		},
		{
			name:    "in progress holds while agents run",
			current: models.PlanStatusInProgress,
			closed:  2,
			// An agent still running means its task has not closed yet.
			liveAgents: 1,
			want:       models.PlanStatusInProgress,
		},
		{
			name:    "in progress reaches review when all closed",
			current: models.PlanStatusInProgress,
			closed:  2,
			want:    models.PlanStatusReadyForReview,
		},
		{
			name:    "no review without any closed task",
			current: models.PlanStatusInProgress,
			want:    models.PlanStatusInProgress,
		},
		{
			name:          "review falls back when new work appears",
			current:       models.PlanStatusReadyForReview,
			openNonExempt: 1,
			closed:        2,
			want:          models.PlanStatusInProgress,
		},
		{
			name:    "review never self-completes",
			current: models.PlanStatusReadyForReview,
			closed:  2,
			want:    models.PlanStatusReadyForReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reduceStatus(tt.current, tt.openNonExempt, tt.closed, tt.liveAgents, tt.dispatchable)
			if got != tt.want {
				t.Errorf("reduceStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReducePlanIgnoresExemptDeferredTasks(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)

	closed := []*beads.Task{{ID: "done", Status: beads.TaskStatusClosed}}
	optional := []*beads.Task{{
		ID:     "later",
		Status: beads.TaskStatusReady,
		Labels: []string{beads.LabelDeferredExempt},
	}}

	active, err := env.orch.reducePlan(context.Background(), plan, optional, nil, closed, 0)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if !active {
		t.Fatal("expected plan to stay active")
	}

	got, err := env.db.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Status != models.PlanStatusReadyForReview {
		t.Errorf("plan status %s, want %s with only exempt work open",
			got.Status, models.PlanStatusReadyForReview)
	}
}

func TestCompletePlanRequiresReview(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)

	if _, err := env.orch.CompletePlan(context.Background(), plan.ID); err == nil {
		t.Fatal("expected completing an in-progress plan to fail")
	}

	if err := env.db.UpdatePlanStatus(plan.ID, models.PlanStatusReadyForReview); err != nil {
		t.Fatalf("set status: %v", err)
	}
	updated, err := env.orch.CompletePlan(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if updated.Status != models.PlanStatusCompleted {
		t.Errorf("plan status %s, want completed", updated.Status)
	}
}
