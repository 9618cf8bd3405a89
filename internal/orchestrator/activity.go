package orchestrator

import (
	"fmt"
	"time"

	"github.com/planfleet/planfleet/pkg/models"
)

// logActivity appends an entry to a plan's timeline and pushes it to
// subscribers. Persistence failures are logged, never propagated; the
// timeline is advisory and must not break the dispatch path.
func (o *Orchestrator) logActivity(planID string, kind models.ActivityKind, taskID, format string, args ...any) {
	entry := &models.Activity{
		PlanID:    planID,
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		TaskID:    taskID,
		CreatedAt: time.Now(),
	}
	if err := o.db.AppendActivity(entry); err != nil {
		o.logger.Logf("append activity for plan %s: %v", planID, err)
		return
	}
	o.emitter.Emit(Event{
		Type:     EventActivityAppended,
		PlanID:   planID,
		TaskID:   taskID,
		Activity: entry,
		Message:  entry.Message,
	})
}
