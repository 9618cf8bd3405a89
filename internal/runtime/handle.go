package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planfleet/planfleet/pkg/models"
)

// Observer receives pushes as an agent's observable state changes.
// Pushes are fire-and-forget; implementations must not block.
type Observer interface {
	// AgentStatusChanged is called on every status transition.
	AgentStatusChanged(info models.HeadlessAgentInfo)
	// AgentEventAppended is called for every event log append.
	AgentEventAppended(info models.HeadlessAgentInfo, event models.AgentEvent)
}

// Handle supervises one agent container from launch to terminal status.
// Transitions are driven by process lifecycle signals, not polling:
// starting -> planning -> running -> completed | failed.
type Handle struct {
	mu   sync.Mutex
	info models.HeadlessAgentInfo

	runner   ContainerRunner
	opts     StartOptions
	proc     Process
	observer Observer

	// stopGrace is how long a still-running container gets after a
	// task-store close before it is force-stopped.
	stopGrace time.Duration

	// closedByStore records that the task store observed a close for this
	// agent's task. It overrides a non-zero exit code: the agent's own task
	// closure is authoritative over the generic process exit code.
	closedByStore bool
	stopped       bool
	done          chan struct{}
}

// NewHandle creates a supervisor for one agent run. An empty agentID gets a
// fresh one; dispatch passes the ID it already recorded on the assignment.
func NewHandle(agentID, taskID, planID string, agentType models.AgentType, runner ContainerRunner, opts StartOptions, stopGrace time.Duration, observer Observer) *Handle {
	if agentID == "" {
		agentID = uuid.New().String()
	}
	return &Handle{
		info: models.HeadlessAgentInfo{
			ID:           agentID,
			TaskID:       taskID,
			PlanID:       planID,
			Type:         agentType,
			Status:       models.AgentStatusStarting,
			WorktreePath: opts.WorkingDir,
			Model:        opts.Model,
		},
		runner:    runner,
		opts:      opts,
		stopGrace: stopGrace,
		observer:  observer,
		done:      make(chan struct{}),
	}
}

// ID returns the agent run identifier.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info.ID
}

// Info returns a snapshot of the agent's observable state.
func (h *Handle) Info() models.HeadlessAgentInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// snapshotLocked copies info including the event log. Caller must hold h.mu.
func (h *Handle) snapshotLocked() models.HeadlessAgentInfo {
	snap := h.info
	snap.Events = append([]models.AgentEvent(nil), h.info.Events...)
	if h.info.Result != nil {
		r := *h.info.Result
		snap.Result = &r
	}
	return snap
}

// Start launches the container and begins supervision.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.proc != nil {
		h.mu.Unlock()
		return fmt.Errorf("agent already started")
	}
	h.info.StartedAt = time.Now()
	h.mu.Unlock()

	proc, err := h.runner.Start(ctx, h.opts)
	if err != nil {
		h.complete(-1, fmt.Errorf("start container: %w", err))
		return fmt.Errorf("start container: %w", err)
	}

	h.mu.Lock()
	h.proc = proc
	h.mu.Unlock()

	h.notifyStatus()
	go h.supervise(proc)
	return nil
}

// supervise consumes the event stream and finalizes on exit.
func (h *Handle) supervise(proc Process) {
	for ev := range proc.Events() {
		h.handleEvent(ev)
	}
	code, err := proc.Wait()
	h.complete(code, err)
}

// handleEvent appends to the event log and advances the status machine.
func (h *Handle) handleEvent(ev StreamEvent) {
	entry := models.AgentEvent{
		Timestamp: time.Now(),
		Kind:      string(ev.Type),
		Message:   ev.Message,
	}
	if ev.Type == StreamEventError {
		entry.Message = ev.Error
	}

	h.mu.Lock()
	h.info.Events = append(h.info.Events, entry)

	statusChanged := false
	switch ev.Type {
	case StreamEventSystem:
		if h.info.Status == models.AgentStatusStarting {
			h.info.Status = models.AgentStatusPlanning
			statusChanged = true
		}
	case StreamEventAssistant:
		if h.info.Status == models.AgentStatusStarting || h.info.Status == models.AgentStatusPlanning {
			h.info.Status = models.AgentStatusRunning
			statusChanged = true
		}
	}
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.AgentEventAppended(snap, entry)
		if statusChanged {
			h.observer.AgentStatusChanged(snap)
		}
	}
}

// complete finalizes the agent based on the process result. A task-store
// close observed before exit forces success even on a non-zero or killed
// exit; the agent closed its task and tore down on its own terms.
func (h *Handle) complete(exitCode int, runErr error) {
	h.mu.Lock()
	if h.info.Status.Terminal() {
		h.mu.Unlock()
		return
	}

	success := runErr == nil && exitCode == 0
	if h.closedByStore {
		success = true
	}

	result := &models.AgentResult{Success: success, ExitCode: exitCode}
	if !success && runErr != nil {
		result.Error = runErr.Error()
	}

	if success {
		h.info.Status = models.AgentStatusCompleted
	} else {
		h.info.Status = models.AgentStatusFailed
	}
	h.info.Result = result
	now := time.Now()
	h.info.CompletedAt = &now
	h.mu.Unlock()

	close(h.done)
	h.notifyStatus()
}

// notifyStatus pushes a status snapshot to the observer.
func (h *Handle) notifyStatus() {
	if h.observer == nil {
		return
	}
	h.mu.Lock()
	snap := h.snapshotLocked()
	h.mu.Unlock()
	h.observer.AgentStatusChanged(snap)
}

// MarkTaskClosed records that the task store closed this agent's task.
// The container gets the grace period to exit voluntarily; if it is still
// running after that, it is force-stopped. Either way the final result
// reports success.
func (h *Handle) MarkTaskClosed() {
	h.mu.Lock()
	if h.info.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.closedByStore = true
	grace := h.stopGrace
	h.mu.Unlock()

	go func() {
		select {
		case <-h.done:
		case <-time.After(grace):
			h.Stop()
		}
	}()
}

// Stop force-stops the container. Idempotent: stopping an already-stopped
// or finished agent is a no-op.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped || h.info.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	proc := h.proc
	h.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
}

// Done returns a channel closed when the agent reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the final result, or nil while the agent is running.
func (h *Handle) Result() *models.AgentResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.info.Result == nil {
		return nil
	}
	r := *h.info.Result
	return &r
}
