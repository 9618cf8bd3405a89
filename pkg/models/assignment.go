package models

import "time"

// AssignmentStatus represents the delivery state of a task assignment.
type AssignmentStatus string

const (
	// AssignmentStatusPending indicates the assignment was recorded but the
	// agent has not started yet.
	AssignmentStatusPending AssignmentStatus = "pending"
	// AssignmentStatusSent indicates the task prompt was handed to the agent.
	AssignmentStatusSent AssignmentStatus = "sent"
	// AssignmentStatusInProgress indicates the agent is working on the task.
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	// AssignmentStatusCompleted indicates the task closed in the task store.
	AssignmentStatusCompleted AssignmentStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusPending, AssignmentStatusSent,
		AssignmentStatusInProgress, AssignmentStatusCompleted:
		return true
	default:
		return false
	}
}

// Open returns true while the assignment has not reached completed.
func (s AssignmentStatus) Open() bool {
	return s != AssignmentStatusCompleted
}

// TaskAssignment records that a task-store task was handed to an agent
// under a plan. Its existence is the dispatch commit point: at most one
// assignment exists per task per plan, and dispatch checks for one before
// provisioning anything, making duplicate dispatch attempts no-ops.
type TaskAssignment struct {
	// BeadID is the task-store task identifier.
	BeadID string `json:"bead_id"`
	// AgentID is the agent the task was assigned to.
	AgentID string `json:"agent_id"`
	// PlanID is the owning plan.
	PlanID string `json:"plan_id"`
	// Status is the delivery state.
	Status AssignmentStatus `json:"status"`
	// AssignedAt is when the assignment was recorded.
	AssignedAt time.Time `json:"assigned_at"`
	// CompletedAt is when the task closed, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
