package models

import "time"

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan has been created but not discussed.
	PlanStatusDraft PlanStatus = "draft"
	// PlanStatusDiscussed indicates the plan content has been settled.
	PlanStatusDiscussed PlanStatus = "discussed"
	// PlanStatusDelegating indicates tasks are being handed to agents.
	PlanStatusDelegating PlanStatus = "delegating"
	// PlanStatusInProgress indicates at least one task is dispatchable or running.
	PlanStatusInProgress PlanStatus = "in_progress"
	// PlanStatusReadyForReview indicates all non-deferred tasks are closed.
	PlanStatusReadyForReview PlanStatus = "ready_for_review"
	// PlanStatusCompleted indicates the user accepted the plan and it was torn down.
	PlanStatusCompleted PlanStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusDiscussed, PlanStatusDelegating,
		PlanStatusInProgress, PlanStatusReadyForReview, PlanStatusCompleted:
		return true
	default:
		return false
	}
}

// Active returns true while the plan should be polled for task dispatch.
func (s PlanStatus) Active() bool {
	switch s {
	case PlanStatusDelegating, PlanStatusInProgress, PlanStatusReadyForReview:
		return true
	default:
		return false
	}
}

// BranchStrategy controls how agent branches relate to the base branch.
type BranchStrategy string

const (
	// BranchStrategyFeatureBranch stacks all task branches on one shared feature branch.
	BranchStrategyFeatureBranch BranchStrategy = "feature_branch"
	// BranchStrategyRaisePRs branches each task off the default branch for separate PRs.
	BranchStrategyRaisePRs BranchStrategy = "raise_prs"
)

// Valid returns true if the strategy is a known value.
func (s BranchStrategy) Valid() bool {
	return s == BranchStrategyFeatureBranch || s == BranchStrategyRaisePRs
}

// TeamMode selects how work is planned.
type TeamMode string

const (
	// TeamModeTopDown uses a central orchestrator agent to author the task graph.
	TeamModeTopDown TeamMode = "top-down"
	// TeamModeBottomUp triages and decomposes tasks on demand with ephemeral agents.
	TeamModeBottomUp TeamMode = "bottom-up"
)

// Valid returns true if the mode is a known value.
func (m TeamMode) Valid() bool {
	return m == TeamModeTopDown || m == TeamModeBottomUp
}

// Plan is the top-level unit of orchestrated work. It owns one dependency
// graph of tasks in the task store and the worktrees created for them.
// The plan is the unit of locking and persistence.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Title is the short name of the plan.
	Title string `json:"title"`
	// Description holds the plan document body.
	Description string `json:"description,omitempty"`
	// Discussion holds the notes recorded when the plan was discussed.
	Discussion string `json:"discussion,omitempty"`
	// Status is the current lifecycle state.
	Status PlanStatus `json:"status"`
	// ReferenceAgentID points at the agent whose context seeded this plan.
	ReferenceAgentID string `json:"reference_agent_id,omitempty"`
	// MaxParallelAgents caps the number of concurrently active worktrees.
	MaxParallelAgents int `json:"max_parallel_agents"`
	// BranchStrategy controls branch layout for task worktrees.
	BranchStrategy BranchStrategy `json:"branch_strategy"`
	// TeamMode selects top-down or bottom-up planning.
	TeamMode TeamMode `json:"team_mode"`
	// FeatureBranch is the shared branch name when BranchStrategy is feature_branch.
	FeatureBranch string `json:"feature_branch,omitempty"`
	// Worktrees lists the worktrees created for this plan, in creation order.
	Worktrees []*PlanWorktree `json:"worktrees,omitempty"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the plan was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveWorktreeCount returns the number of worktrees still holding a slot
// against MaxParallelAgents.
func (p *Plan) ActiveWorktreeCount() int {
	n := 0
	for _, wt := range p.Worktrees {
		if wt.Status == WorktreeStatusActive {
			n++
		}
	}
	return n
}

// WorktreeForTask returns the worktree created for the given task, or nil.
func (p *Plan) WorktreeForTask(taskID string) *PlanWorktree {
	for _, wt := range p.Worktrees {
		if wt.TaskID == taskID {
			return wt
		}
	}
	return nil
}
