package orchestrator

import (
	"context"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/pkg/models"
)

// isExemptDeferred reports whether a task is excluded from plan completion
// calculations. Bottom-up mode parks optional work behind this label so a
// plan can reach review while nice-to-haves are still open.
func isExemptDeferred(t *beads.Task) bool {
	return t.HasLabel(beads.LabelDeferredExempt)
}

// reduceStatus computes the next plan status from observed task state.
// Completion itself never happens here; only the user completes a plan.
func reduceStatus(current models.PlanStatus, openNonExempt, closedCount, liveAgents, dispatchable int) models.PlanStatus {
	switch current {
	case models.PlanStatusDelegating:
		if openNonExempt == 0 && closedCount > 0 && liveAgents == 0 {
			return models.PlanStatusReadyForReview
		}
		if dispatchable > 0 || liveAgents > 0 {
			return models.PlanStatusInProgress
		}
	case models.PlanStatusInProgress:
		if openNonExempt == 0 && closedCount > 0 && liveAgents == 0 {
			return models.PlanStatusReadyForReview
		}
	case models.PlanStatusReadyForReview:
		// New work appeared after review began; resume dispatching.
		if openNonExempt > 0 {
			return models.PlanStatusInProgress
		}
	}
	return current
}

// reducePlan applies the status reduction at the end of a sync cycle and
// reports whether the plan remains in a polled status.
func (o *Orchestrator) reducePlan(ctx context.Context, plan *models.Plan, ready, open, closed []*beads.Task, dispatchable int) (bool, error) {
	openNonExempt := 0
	for _, t := range ready {
		if !isExemptDeferred(t) {
			openNonExempt++
		}
	}
	for _, t := range open {
		if !isExemptDeferred(t) {
			openNonExempt++
		}
	}

	liveAgents := len(o.registry.ActiveForPlan(plan.ID, ""))

	next := reduceStatus(plan.Status, openNonExempt, len(closed), liveAgents, dispatchable)
	if next == plan.Status {
		return plan.Status.Active(), nil
	}

	if _, err := o.mutatePlan(plan.ID, func(p *models.Plan) error {
		if p.Status == plan.Status {
			p.Status = next
		}
		return nil
	}); err != nil {
		return true, err
	}
	o.logActivity(plan.ID, models.ActivityStatus, "", "plan moved from %s to %s", plan.Status, next)
	return next.Active(), nil
}
