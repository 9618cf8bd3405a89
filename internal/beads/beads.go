// Package beads provides the client for the external task store.
// The store holds tasks ("beads"), their labels, and blocked-by edges;
// the orchestrator only consumes its CRUD and dependency-query surface.
package beads

import (
	"context"
	"errors"
)

// ErrNotFound indicates the task store has no task with the given ID.
var ErrNotFound = errors.New("task not found")

// TaskStatus represents the state of a task in the store.
type TaskStatus string

const (
	// TaskStatusOpen indicates the task exists but is not yet released for dispatch.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusReady indicates the planner explicitly released the task.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusClosed indicates the task is done.
	TaskStatusClosed TaskStatus = "closed"
)

// Task type values used by the orchestrator.
const (
	// TaskTypeWork is a regular implementation task.
	TaskTypeWork = "task"
	// TaskTypeReview is a critic review task.
	TaskTypeReview = "review"
	// TaskTypeFixup is a follow-up task produced by a critic rejection.
	TaskTypeFixup = "fixup"
)

// Labels the orchestrator reads and writes.
const (
	// LabelPlanPrefix scopes a task to a plan: "plan:<planID>".
	LabelPlanPrefix = "plan:"
	// LabelRepoPrefix records the repository a task targets: "repo:<repoID>".
	LabelRepoPrefix = "repo:"
	// LabelWorktreePrefix ties a fixup or review task to the original task's
	// worktree: "worktree:<taskID>".
	LabelWorktreePrefix = "worktree:"
	// LabelNeedsTriage marks a task for the manager agent in bottom-up mode.
	LabelNeedsTriage = "needs-triage"
	// LabelNeedsDecomposition marks a task for the architect agent.
	LabelNeedsDecomposition = "needs-decomposition"
	// LabelDeferredExempt marks optional bottom-up work that is excluded from
	// plan completion calculations while it waits.
	LabelDeferredExempt = "deferred-optional"
)

// Task is the store's view of a unit of work.
type Task struct {
	// ID is the task-store identifier (bead ID).
	ID string `json:"id"`
	// Title is the short description.
	Title string `json:"title"`
	// Status is the store-side state.
	Status TaskStatus `json:"status"`
	// Type distinguishes work, review, and fixup tasks.
	Type string `json:"type"`
	// Labels carries orchestrator metadata.
	Labels []string `json:"labels,omitempty"`
	// BlockedBy lists IDs of tasks that must close before this one dispatches.
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// HasLabel returns true if the task carries the exact label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelValue returns the suffix of the first label with the given prefix,
// or empty string if none is present.
func (t *Task) LabelValue(prefix string) string {
	for _, l := range t.Labels {
		if len(l) > len(prefix) && l[:len(prefix)] == prefix {
			return l[len(prefix):]
		}
	}
	return ""
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	// Status restricts to tasks in the given state.
	Status TaskStatus
	// Labels restricts to tasks carrying all of the given labels.
	Labels []string
}

// Update describes a label mutation.
type Update struct {
	// AddLabels are appended to the task.
	AddLabels []string
	// RemoveLabels are stripped from the task.
	RemoveLabels []string
}

// Client is the task-store interface consumed by the orchestrator.
// All calls are synchronous RPC-style and may fail transiently; callers
// treat failure as "retry next cycle", never as fatal.
type Client interface {
	// Create adds a task of the given type and returns its ID.
	Create(ctx context.Context, title, taskType string, labels []string) (string, error)
	// List returns tasks matching the filter.
	List(ctx context.Context, filter Filter) ([]*Task, error)
	// Get returns a single task by ID.
	Get(ctx context.Context, id string) (*Task, error)
	// Update applies a label mutation to the task.
	Update(ctx context.Context, id string, update Update) error
	// Close marks the task closed.
	Close(ctx context.Context, id string) error
	// MarkReady releases the task for dispatch.
	MarkReady(ctx context.Context, id string) error
	// Dependents returns IDs of tasks blocked by the given task.
	Dependents(ctx context.Context, id string) ([]string, error)
	// AddDependency makes blockedID wait on blockerID.
	AddDependency(ctx context.Context, blockerID, blockedID string) error
	// DetectCycles returns dependency cycles in the task graph, if any.
	DetectCycles(ctx context.Context) ([][]string, error)
}
