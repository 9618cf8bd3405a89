package models

import "time"

// AgentStatus represents the state of a headless agent process.
type AgentStatus string

const (
	// AgentStatusStarting indicates the container is being launched.
	AgentStatusStarting AgentStatus = "starting"
	// AgentStatusPlanning indicates the agent is reading context before editing.
	AgentStatusPlanning AgentStatus = "planning"
	// AgentStatusRunning indicates the agent is actively working.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusCompleted indicates the agent finished successfully.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the agent exited with an error.
	AgentStatusFailed AgentStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusStarting, AgentStatusPlanning, AgentStatusRunning,
		AgentStatusCompleted, AgentStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true once the agent can no longer change state.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed
}

// AgentType identifies the role an agent plays within a plan.
type AgentType string

const (
	// AgentTypeTask executes a plan task in its worktree.
	AgentTypeTask AgentType = "task"
	// AgentTypeCritic reviews a completed task's changes.
	AgentTypeCritic AgentType = "critic"
	// AgentTypeManager triages tasks in bottom-up mode.
	AgentTypeManager AgentType = "manager"
	// AgentTypeArchitect decomposes tasks in bottom-up mode.
	AgentTypeArchitect AgentType = "architect"
)

// AgentResult describes how an agent process ended.
type AgentResult struct {
	// Success is the final verdict. A task-store close observed before exit
	// forces this true regardless of the exit code.
	Success bool `json:"success"`
	// ExitCode is the raw container exit code.
	ExitCode int `json:"exit_code"`
	// Error holds failure details when Success is false.
	Error string `json:"error,omitempty"`
}

// AgentEvent is one entry in an agent's ordered event log.
type AgentEvent struct {
	// Timestamp is when the event was observed.
	Timestamp time.Time `json:"timestamp"`
	// Kind is the raw stream event type (system, assistant, result, error).
	Kind string `json:"kind"`
	// Message is the event payload.
	Message string `json:"message,omitempty"`
}

// HeadlessAgentInfo is the observable record of one running or
// most-recently-run agent process. It is superseded by the next run of the
// same logical role.
type HeadlessAgentInfo struct {
	// ID is the unique identifier for this agent run.
	ID string `json:"id"`
	// TaskID is the task the agent is working on.
	TaskID string `json:"task_id"`
	// PlanID is the owning plan.
	PlanID string `json:"plan_id"`
	// Status is the current state machine position.
	Status AgentStatus `json:"status"`
	// Type is the agent's role.
	Type AgentType `json:"type"`
	// WorktreePath is the working directory the agent runs in.
	WorktreePath string `json:"worktree_path,omitempty"`
	// Model is the model identifier the agent was started with.
	Model string `json:"model,omitempty"`
	// Events is the ordered event log.
	Events []AgentEvent `json:"events,omitempty"`
	// StartedAt is when the container was launched.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the agent reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result describes how the process ended, once terminal.
	Result *AgentResult `json:"result,omitempty"`
}
