package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/pkg/models"
)

// stagnationTracker watches a plan's deferred task set. If the same set of
// tasks stays deferred past the threshold, one warning fires; the tracker
// then stays quiet until the set changes and stalls again.
type stagnationTracker struct {
	ids    map[string]bool
	since  time.Time
	warned bool
}

// observe updates the tracker with the current deferred set and reports
// whether a stagnation warning should fire now.
func (t *stagnationTracker) observe(deferred []string, now time.Time, threshold time.Duration) bool {
	if len(deferred) == 0 {
		t.ids = nil
		t.warned = false
		return false
	}

	if !sameIDSet(t.ids, deferred) {
		t.ids = make(map[string]bool, len(deferred))
		for _, id := range deferred {
			t.ids[id] = true
		}
		t.since = now
		t.warned = false
		return false
	}

	if t.warned || now.Sub(t.since) < threshold {
		return false
	}
	t.warned = true
	return true
}

// sameIDSet reports whether ids matches the set of elements in list.
func sameIDSet(ids map[string]bool, list []string) bool {
	if len(ids) != len(list) {
		return false
	}
	for _, id := range list {
		if !ids[id] {
			return false
		}
	}
	return true
}

// observeStagnation feeds the deferred partition into the plan's tracker
// and records a warning when the same tasks have been stuck too long.
func (o *Orchestrator) observeStagnation(plan *models.Plan, deferred []*beads.Task) {
	o.mu.Lock()
	tracker := o.trackers[plan.ID]
	o.mu.Unlock()
	if tracker == nil {
		return
	}

	ids := make([]string, 0, len(deferred))
	blockers := make(map[string][]string, len(deferred))
	for _, t := range deferred {
		ids = append(ids, t.ID)
		blockers[t.ID] = t.BlockedBy
	}

	threshold := o.config().Poller.StagnationThreshold
	if !tracker.observe(ids, time.Now(), threshold) {
		return
	}

	sort.Strings(ids)
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(id)
		if deps := blockers[id]; len(deps) > 0 {
			b.WriteString(" (waiting on ")
			b.WriteString(strings.Join(deps, ", "))
			b.WriteString(")")
		}
	}
	o.logActivity(plan.ID, models.ActivityWarning, "",
		"no dispatch progress for %s; stuck tasks: %s", threshold, b.String())
	o.emitter.Emit(Event{
		Type:    EventStagnationWarning,
		PlanID:  plan.ID,
		Message: b.String(),
	})
}
