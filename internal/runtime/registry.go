package runtime

import (
	"sync"

	"github.com/planfleet/planfleet/pkg/models"
)

// Registry tracks agent handles by ID. It is owned by the orchestrator and
// injected where needed, so tests can run with isolated instances.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds a handle.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID()] = h
}

// Get returns the handle for an agent ID, or nil.
func (r *Registry) Get(id string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[id]
}

// Remove drops a handle from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// ForTask returns the handle for a task, or nil.
func (r *Registry) ForTask(planID, taskID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		info := h.Info()
		if info.PlanID == planID && info.TaskID == taskID {
			return h
		}
	}
	return nil
}

// ActiveForPlan returns non-terminal handles of the given type for a plan.
// An empty type matches all.
func (r *Registry) ActiveForPlan(planID string, agentType models.AgentType) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*Handle
	for _, h := range r.handles {
		info := h.Info()
		if info.PlanID != planID || info.Status.Terminal() {
			continue
		}
		if agentType != "" && info.Type != agentType {
			continue
		}
		active = append(active, h)
	}
	return active
}

// StopAll requests a stop on every tracked agent, tolerating per-agent
// failures. Used at orchestrator shutdown and plan teardown.
func (r *Registry) StopAll(planID string) {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if planID == "" || h.Info().PlanID == planID {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Stop()
	}
}
