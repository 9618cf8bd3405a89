package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/pkg/models"
)

// runEphemeralAgents spawns the bottom-up helper agents: a manager for
// tasks labeled needs-triage and an architect for tasks labeled
// needs-decomposition. At most one of each role runs per plan at a time;
// a batch that arrives while one is running waits for the next cycle.
func (o *Orchestrator) runEphemeralAgents(ctx context.Context, plan *models.Plan, tasks []*beads.Task) {
	var triage, decompose []*beads.Task
	for _, t := range tasks {
		if t.HasLabel(beads.LabelNeedsTriage) {
			triage = append(triage, t)
		}
		if t.HasLabel(beads.LabelNeedsDecomposition) {
			decompose = append(decompose, t)
		}
	}

	if len(triage) > 0 && len(o.registry.ActiveForPlan(plan.ID, models.AgentTypeManager)) == 0 {
		o.spawnEphemeral(ctx, plan, models.AgentTypeManager, buildManagerPrompt(triage), triage)
	}
	if len(decompose) > 0 && len(o.registry.ActiveForPlan(plan.ID, models.AgentTypeArchitect)) == 0 {
		o.spawnEphemeral(ctx, plan, models.AgentTypeArchitect, buildArchitectPrompt(decompose), decompose)
	}
}

// spawnEphemeral launches a helper agent against the repository root with
// a persistent memory directory mounted. Helper failures only warn; the
// tasks keep their labels and the next cycle retries.
func (o *Orchestrator) spawnEphemeral(ctx context.Context, plan *models.Plan, role models.AgentType, prompt string, batch []*beads.Task) {
	repoID := batch[0].LabelValue(beads.LabelRepoPrefix)
	if repoID == "" {
		repoID = DefaultRepoID
	}
	root, ok := o.repoRoot(repoID)
	if !ok {
		o.logActivity(plan.ID, models.ActivityWarning, batch[0].ID,
			"cannot run %s agent: unknown repository %q", role, repoID)
		return
	}

	memDir := filepath.Join(o.memoryBase(), plan.ID, string(role))
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		o.logActivity(plan.ID, models.ActivityWarning, "",
			"cannot create %s memory dir: %v", role, err)
		return
	}

	cfg := o.config()
	opts := runtime.StartOptions{
		Prompt:     prompt,
		WorkingDir: root,
		PlanID:     plan.ID,
		Image:      cfg.Runtime.Image,
		Model:      cfg.Agents.Model,
		Flags:      append(append([]string{}, cfg.Runtime.ExtraFlags...), "-v", memDir+":/memory"),
	}

	h := runtime.NewHandle("", "", plan.ID, role, o.containers, opts, cfg.Runtime.StopGrace, o)
	o.registry.Register(h)

	if err := h.Start(ctx); err != nil {
		o.registry.Remove(h.ID())
		o.logActivity(plan.ID, models.ActivityWarning, "", "start %s agent: %v", role, err)
		return
	}
	o.logActivity(plan.ID, models.ActivityInfo, "", "%s agent started for %d task(s)", role, len(batch))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-h.Done()
		o.registry.Remove(h.ID())

		res := h.Result()
		if res == nil || !res.Success {
			msg := "unknown failure"
			if res != nil && res.Error != "" {
				msg = res.Error
			}
			o.logActivity(plan.ID, models.ActivityWarning, "", "%s agent failed: %s", role, msg)
			return
		}
		o.emitter.Emit(Event{Type: EventTasksUpdated, PlanID: plan.ID})
		o.logActivity(plan.ID, models.ActivityInfo, "", "%s agent finished", role)
	}()
}

// memoryBase returns the directory ephemeral agent memory lives under.
func (o *Orchestrator) memoryBase() string {
	if dir := o.config().Agents.MemoryDir; dir != "" {
		return dir
	}
	if dataDir := os.Getenv("XDG_DATA_HOME"); dataDir != "" {
		return filepath.Join(dataDir, "planfleet", "memory")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "planfleet", "memory")
	}
	return filepath.Join(home, ".local", "share", "planfleet", "memory")
}
