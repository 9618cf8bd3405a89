// Package orchestrator runs the plan dispatch loop: it polls the task store
// for ready work, provisions worktree-scoped agents, routes completed tasks
// through the critic pipeline, and reduces plan status from task state.
package orchestrator

import (
	"time"

	"github.com/planfleet/planfleet/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventPlanUpdated indicates a plan record changed.
	EventPlanUpdated EventType = "plan_updated"
	// EventPlanDeleted indicates a plan was deleted.
	EventPlanDeleted EventType = "plan_deleted"
	// EventAssignmentUpdated indicates a task assignment was created or changed.
	EventAssignmentUpdated EventType = "assignment_updated"
	// EventTasksUpdated indicates the plan's task set changed in the store.
	EventTasksUpdated EventType = "tasks_updated"
	// EventAgentStatus indicates an agent moved through its status machine.
	EventAgentStatus EventType = "agent_status"
	// EventAgentEvent indicates an agent appended to its event log.
	EventAgentEvent EventType = "agent_event"
	// EventActivityAppended indicates a new entry on a plan's timeline.
	EventActivityAppended EventType = "activity_appended"
	// EventStagnationWarning indicates the same deferred tasks have made no
	// progress past the configured threshold.
	EventStagnationWarning EventType = "stagnation_warning"
	// EventCycleWarning indicates a dependency cycle touches the plan's tasks.
	EventCycleWarning EventType = "cycle_warning"
)

// Event is a notification emitted by the orchestrator. Subscribers (the
// watch TUI, mainly) receive these to update their view without polling.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// PlanID is the plan the event belongs to.
	PlanID string
	// TaskID is the related task-store task, if applicable.
	TaskID string
	// AgentID is the related agent run, if applicable.
	AgentID string
	// Plan carries the updated plan for plan_updated events.
	Plan *models.Plan
	// Assignment carries the assignment for assignment_updated events.
	Assignment *models.TaskAssignment
	// Activity carries the entry for activity_appended events.
	Activity *models.Activity
	// Agent carries an agent snapshot for agent_status and agent_event.
	Agent *models.HeadlessAgentInfo
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
