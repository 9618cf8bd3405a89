package models

import "time"

// WorktreeStatus represents the lifecycle state of a plan worktree.
type WorktreeStatus string

const (
	// WorktreeStatusActive indicates the worktree exists on disk and counts
	// against the plan's parallelism cap.
	WorktreeStatusActive WorktreeStatus = "active"
	// WorktreeStatusCleaned indicates the worktree was removed.
	WorktreeStatusCleaned WorktreeStatus = "cleaned"
)

// Valid returns true if the status is a known value.
func (s WorktreeStatus) Valid() bool {
	return s == WorktreeStatusActive || s == WorktreeStatusCleaned
}

// CriticStatus represents where a worktree is in the review pipeline.
// The zero value means no review has been started.
type CriticStatus string

const (
	// CriticStatusReviewing indicates a review task is open for the worktree.
	CriticStatusReviewing CriticStatus = "reviewing"
	// CriticStatusApproved indicates the last review passed.
	CriticStatusApproved CriticStatus = "approved"
	// CriticStatusRejected indicates the last review produced fixup tasks.
	CriticStatusRejected CriticStatus = "rejected"
)

// PlanWorktree is an isolated, branch-scoped checkout used as the working
// directory for exactly one task's agent. It is created exactly once per
// task dispatch and never recreated for the same task; fixup tasks reuse it.
type PlanWorktree struct {
	// ID is the unique identifier for this worktree.
	ID string `json:"id"`
	// PlanID is the owning plan.
	PlanID string `json:"plan_id"`
	// TaskID is the task-store task this worktree was created for (1:1).
	TaskID string `json:"task_id"`
	// RepositoryID identifies the repository the worktree was carved from.
	RepositoryID string `json:"repository_id"`
	// Path is the absolute filesystem path of the checkout.
	Path string `json:"path"`
	// Branch is the task branch checked out in the worktree.
	Branch string `json:"branch"`
	// BaseBranch is the branch the task branch was created from.
	BaseBranch string `json:"base_branch"`
	// AgentID is the agent most recently run in this worktree.
	AgentID string `json:"agent_id,omitempty"`
	// Status is active until the worktree is torn down.
	Status WorktreeStatus `json:"status"`
	// BlockedBy snapshots the task's dependency IDs at creation time.
	BlockedBy []string `json:"blocked_by,omitempty"`
	// CriticStatus is the current review state, empty before the first review.
	CriticStatus CriticStatus `json:"critic_status,omitempty"`
	// CriticIteration counts review rounds. Never exceeds the configured max.
	CriticIteration int `json:"critic_iteration"`
	// CriticTaskID is the open review task in the task store, if any.
	CriticTaskID string `json:"critic_task_id,omitempty"`
	// TotalFixupCount is the monotonically increasing number of fixup tasks
	// created for this worktree across all review rounds.
	TotalFixupCount int `json:"total_fixup_count"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"created_at"`
}
