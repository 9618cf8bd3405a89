package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/planfleet/planfleet/internal/api"
	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/config"
	"github.com/planfleet/planfleet/internal/git"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/internal/store"
	"github.com/planfleet/planfleet/pkg/models"
)

// DefaultRepoID is the repository ID assumed for tasks without a repo label.
const DefaultRepoID = "default"

// Reviewer is the API-backed critic surface. Satisfied by *api.Client.
type Reviewer interface {
	Review(ctx context.Context, taskTitle, diff string) (*api.ReviewResult, error)
}

// Options configures a new Orchestrator.
type Options struct {
	Config     *config.Config
	DB         *store.DB
	Beads      beads.Client
	Containers runtime.ContainerRunner
	// Repos maps repository IDs to local checkout roots. Tasks reference
	// repositories by label; an empty map leaves nothing dispatchable.
	Repos map[string]string
	// Reviewer enables API-backed critic reviews when critics.use_api is set.
	Reviewer Reviewer
	// NewGit overrides git runner construction, for tests.
	NewGit func(repoRoot string) git.Runner
	Logger Logger
}

// Orchestrator owns the dispatch loop for all active plans. It is the only
// writer of plan, worktree, and assignment state; the task store remains the
// source of truth for tasks and their dependency edges.
type Orchestrator struct {
	db         *store.DB
	beads      beads.Client
	containers runtime.ContainerRunner
	reviewer   Reviewer
	newGit     func(repoRoot string) git.Runner
	registry   *runtime.Registry
	emitter    *EventEmitter
	logger     Logger

	mu    sync.Mutex
	cfg   *config.Config
	repos map[string]string
	// Per-plan lock serializing plan record read-modify-write.
	planLocks map[string]*sync.Mutex
	// Per-repository lock serializing git worktree and branch mutations.
	repoLocks map[string]*sync.Mutex
	pollers   map[string]*poller
	trackers  map[string]*stagnationTracker
	// lastCycleCheck throttles dependency-cycle detection per plan.
	lastCycleCheck map[string]time.Time

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// New creates an Orchestrator. Start must be called before plans are polled.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Beads == nil {
		return nil, fmt.Errorf("task store client is required")
	}
	if opts.Containers == nil {
		return nil, fmt.Errorf("container runner is required")
	}

	newGit := opts.NewGit
	if newGit == nil {
		newGit = func(repoRoot string) git.Runner { return git.NewRunner(repoRoot) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = stdLogger{}
	}
	repos := opts.Repos
	if repos == nil {
		repos = map[string]string{}
	}

	return &Orchestrator{
		db:             opts.DB,
		beads:          opts.Beads,
		containers:     opts.Containers,
		reviewer:       opts.Reviewer,
		newGit:         newGit,
		registry:       runtime.NewRegistry(),
		emitter:        NewEventEmitter(256),
		logger:         logger,
		cfg:            opts.Config,
		repos:          repos,
		planLocks:      make(map[string]*sync.Mutex),
		repoLocks:      make(map[string]*sync.Mutex),
		pollers:        make(map[string]*poller),
		trackers:       make(map[string]*stagnationTracker),
		lastCycleCheck: make(map[string]time.Time),
		shutdown:       make(chan struct{}),
	}, nil
}

// Events returns the notification stream for subscribers.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Registry exposes live agent handles, mainly for status displays.
func (o *Orchestrator) Registry() *runtime.Registry {
	return o.registry
}

// Store exposes the persistence layer for read-side consumers.
func (o *Orchestrator) Store() *store.DB {
	return o.db
}

// config returns the current configuration snapshot.
func (o *Orchestrator) config() *config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// UpdateConfig swaps in a new configuration. Running pollers pick up the
// new interval on their next reset; in-flight cycles keep the old values.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	o.logger.Logf("configuration reloaded")
}

// repoRoot resolves a repository ID to its checkout root.
func (o *Orchestrator) repoRoot(repoID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	root, ok := o.repos[repoID]
	return root, ok
}

// planLock returns the mutex serializing writes to one plan record.
func (o *Orchestrator) planLock(planID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.planLocks[planID]
	if !ok {
		l = &sync.Mutex{}
		o.planLocks[planID] = l
	}
	return l
}

// repoLock returns the mutex serializing git mutations in one repository.
func (o *Orchestrator) repoLock(repoID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.repoLocks[repoID]
	if !ok {
		l = &sync.Mutex{}
		o.repoLocks[repoID] = l
	}
	return l
}

// mutatePlan applies fn to a freshly loaded plan under the plan lock and
// persists the result. All worktree and plan field mutations go through
// here so concurrent dispatches never clobber each other's writes.
func (o *Orchestrator) mutatePlan(planID string, fn func(*models.Plan) error) (*models.Plan, error) {
	lock := o.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	plan, err := o.db.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if err := fn(plan); err != nil {
		return nil, err
	}
	plan.UpdatedAt = time.Now()
	if err := o.db.SavePlan(plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}

	o.emitter.Emit(Event{Type: EventPlanUpdated, PlanID: planID, Plan: plan})
	return plan, nil
}

// Start begins polling every active plan and recovers state left behind by
// a previous process: assignments whose agent no longer exists are released
// so their tasks dispatch again, and worktrees on disk that no plan tracks
// are removed.
func (o *Orchestrator) Start(ctx context.Context) error {
	plans, err := o.db.ListActivePlans()
	if err != nil {
		return fmt.Errorf("list active plans: %w", err)
	}
	o.cleanupOrphanedWorktrees(plans)
	for _, plan := range plans {
		o.recoverPlan(ctx, plan)
		o.startPoller(plan.ID)
	}
	o.logger.Logf("started, polling %d active plan(s)", len(plans))
	return nil
}

// cleanupOrphanedWorktrees removes worktrees under the worktree base dir that
// no active plan still records. These are leftovers from a crashed process or
// a delete that failed partway through teardown.
func (o *Orchestrator) cleanupOrphanedWorktrees(plans []*models.Plan) {
	tracked := make(map[string]bool)
	for _, plan := range plans {
		for _, wt := range plan.Worktrees {
			if wt.Status == models.WorktreeStatusActive {
				tracked[wt.Path] = true
			}
		}
	}
	base := o.worktreeBase() + string(filepath.Separator)

	o.mu.Lock()
	repos := make(map[string]string, len(o.repos))
	for id, root := range o.repos {
		repos[id] = root
	}
	o.mu.Unlock()

	for repoID, root := range repos {
		lock := o.repoLock(repoID)
		lock.Lock()
		g := o.newGit(root)
		porcelain, err := g.WorktreeListPorcelain()
		if err != nil {
			o.logger.Logf("list worktrees in %s: %v", repoID, err)
			lock.Unlock()
			continue
		}
		for _, path := range git.ParseWorktreePaths(porcelain) {
			if !strings.HasPrefix(path, base) || tracked[path] {
				continue
			}
			if err := g.WorktreeRemove(path, true); err != nil {
				o.logger.Logf("remove orphaned worktree %s: %v", path, err)
				continue
			}
			o.logger.Logf("removed orphaned worktree %s", path)
		}
		lock.Unlock()
	}
}

// recoverPlan releases orphaned assignments after a restart. An open
// assignment with no live agent either completed (its task closed) or died
// with the old process; either way the record must not block redispatch.
func (o *Orchestrator) recoverPlan(ctx context.Context, plan *models.Plan) {
	assignments, err := o.db.ListAssignments(plan.ID)
	if err != nil {
		o.logger.Logf("recover plan %s: list assignments: %v", plan.ID, err)
		return
	}
	for _, a := range assignments {
		if !a.Status.Open() {
			continue
		}
		task, err := o.beads.Get(ctx, a.BeadID)
		if err == nil && task.Status == beads.TaskStatusClosed {
			if err := o.db.UpdateAssignmentStatus(plan.ID, a.BeadID, models.AssignmentStatusCompleted); err != nil {
				o.logger.Logf("recover plan %s: complete assignment %s: %v", plan.ID, a.BeadID, err)
			}
			continue
		}
		if err := o.db.DeleteAssignment(plan.ID, a.BeadID); err != nil {
			o.logger.Logf("recover plan %s: release assignment %s: %v", plan.ID, a.BeadID, err)
			continue
		}
		o.logActivity(plan.ID, models.ActivityWarning, a.BeadID,
			"released orphaned assignment for task %s after restart", a.BeadID)
	}
}

// Shutdown stops all pollers and agents and closes the event stream.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		close(o.shutdown)

		o.mu.Lock()
		pollers := make([]*poller, 0, len(o.pollers))
		for _, p := range o.pollers {
			pollers = append(pollers, p)
		}
		o.mu.Unlock()

		for _, p := range pollers {
			p.stop()
		}
		o.registry.StopAll("")
		o.wg.Wait()
		o.emitter.Close()
	})
}

// AgentStatusChanged implements runtime.Observer.
func (o *Orchestrator) AgentStatusChanged(info models.HeadlessAgentInfo) {
	if info.Type == models.AgentTypeTask && info.Status == models.AgentStatusRunning {
		if err := o.db.UpdateAssignmentStatus(info.PlanID, info.TaskID, models.AssignmentStatusInProgress); err != nil {
			o.logger.Logf("mark assignment in progress for task %s: %v", info.TaskID, err)
		} else {
			o.emitter.Emit(Event{
				Type:    EventAssignmentUpdated,
				PlanID:  info.PlanID,
				TaskID:  info.TaskID,
				AgentID: info.ID,
			})
		}
	}
	o.emitter.Emit(Event{
		Type:    EventAgentStatus,
		PlanID:  info.PlanID,
		TaskID:  info.TaskID,
		AgentID: info.ID,
		Agent:   &info,
	})
}

// AgentEventAppended implements runtime.Observer.
func (o *Orchestrator) AgentEventAppended(info models.HeadlessAgentInfo, event models.AgentEvent) {
	o.emitter.Emit(Event{
		Type:    EventAgentEvent,
		PlanID:  info.PlanID,
		TaskID:  info.TaskID,
		AgentID: info.ID,
		Agent:   &info,
		Message: event.Message,
	})
}

// Verify the orchestrator observes agent handles at compile time.
var _ runtime.Observer = (*Orchestrator)(nil)
