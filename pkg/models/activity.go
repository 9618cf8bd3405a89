package models

import "time"

// ActivityKind classifies a plan activity entry.
type ActivityKind string

const (
	// ActivityInfo is a routine progress note.
	ActivityInfo ActivityKind = "info"
	// ActivityWarning flags a condition needing attention (stagnation, cycles).
	ActivityWarning ActivityKind = "warning"
	// ActivityError records a failure that the orchestrator absorbed.
	ActivityError ActivityKind = "error"
	// ActivityDispatch records a task being handed to an agent.
	ActivityDispatch ActivityKind = "dispatch"
	// ActivityReview records critic pipeline transitions.
	ActivityReview ActivityKind = "review"
	// ActivityStatus records a plan status change.
	ActivityStatus ActivityKind = "status"
)

// Activity is one entry in a plan's append-only timeline.
type Activity struct {
	// ID is the storage-assigned sequence number.
	ID int64 `json:"id"`
	// PlanID is the owning plan.
	PlanID string `json:"plan_id"`
	// Kind classifies the entry.
	Kind ActivityKind `json:"kind"`
	// Message is the human-readable record.
	Message string `json:"message"`
	// TaskID ties the entry to a task when applicable.
	TaskID string `json:"task_id,omitempty"`
	// CreatedAt is when the entry was appended.
	CreatedAt time.Time `json:"created_at"`
}
