package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/config"
	"github.com/planfleet/planfleet/internal/git"
	"github.com/planfleet/planfleet/internal/runtime"
	"github.com/planfleet/planfleet/internal/store"
	"github.com/planfleet/planfleet/pkg/models"
)

// fakeBeads is an in-memory task store.
type fakeBeads struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]*beads.Task
}

func newFakeBeads() *fakeBeads {
	return &fakeBeads{tasks: make(map[string]*beads.Task)}
}

func (f *fakeBeads) Create(ctx context.Context, title, taskType string, labels []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("bead-%d", f.seq)
	f.tasks[id] = &beads.Task{
		ID:     id,
		Title:  title,
		Status: beads.TaskStatusOpen,
		Type:   taskType,
		Labels: append([]string(nil), labels...),
	}
	return id, nil
}

func (f *fakeBeads) List(ctx context.Context, filter beads.Filter) ([]*beads.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*beads.Task
	for _, t := range f.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		match := true
		for _, l := range filter.Labels {
			if !t.HasLabel(l) {
				match = false
				break
			}
		}
		if match {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBeads) Get(ctx context.Context, id string) (*beads.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, beads.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeBeads) Update(ctx context.Context, id string, update beads.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return beads.ErrNotFound
	}
	for _, add := range update.AddLabels {
		if !t.HasLabel(add) {
			t.Labels = append(t.Labels, add)
		}
	}
	for _, rm := range update.RemoveLabels {
		for i, l := range t.Labels {
			if l == rm {
				t.Labels = append(t.Labels[:i], t.Labels[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeBeads) Close(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return beads.ErrNotFound
	}
	t.Status = beads.TaskStatusClosed
	return nil
}

func (f *fakeBeads) MarkReady(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return beads.ErrNotFound
	}
	if t.Status != beads.TaskStatusClosed {
		t.Status = beads.TaskStatusReady
	}
	return nil
}

func (f *fakeBeads) Dependents(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tasks {
		for _, dep := range t.BlockedBy {
			if dep == id {
				out = append(out, t.ID)
			}
		}
	}
	return out, nil
}

func (f *fakeBeads) AddDependency(ctx context.Context, blockerID, blockedID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[blockedID]
	if !ok {
		return beads.ErrNotFound
	}
	t.BlockedBy = append(t.BlockedBy, blockerID)
	return nil
}

func (f *fakeBeads) DetectCycles(ctx context.Context) ([][]string, error) {
	f.mu.Lock()
	all := make([]*beads.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		cp := *t
		all = append(all, &cp)
	}
	f.mu.Unlock()
	return beads.FindCycles(all), nil
}

// addReadyTask seeds a ready task scoped to a plan.
func (f *fakeBeads) addReadyTask(planID, title string, blockedBy ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("bead-%d", f.seq)
	f.tasks[id] = &beads.Task{
		ID:        id,
		Title:     title,
		Status:    beads.TaskStatusReady,
		Type:      beads.TaskTypeWork,
		Labels:    []string{beads.LabelPlanPrefix + planID, beads.LabelRepoPrefix + DefaultRepoID},
		BlockedBy: blockedBy,
	}
	return id
}

var _ beads.Client = (*fakeBeads)(nil)

// fakeGit is an in-memory git.Runner.
type fakeGit struct {
	mu        sync.Mutex
	branches  map[string]bool
	worktrees map[string]string // path -> branch
	removed   []string
	diff      string
	porcelain string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branches:  map[string]bool{"main": true},
		worktrees: make(map[string]string),
	}
}

func (g *fakeGit) CurrentBranch() (string, error) { return "main", nil }
func (g *fakeGit) DefaultBranch() (string, error) { return "main", nil }

func (g *fakeGit) BranchExists(name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches[name], nil
}

func (g *fakeGit) RemoteBranchExists(name string) (bool, error) { return false, nil }
func (g *fakeGit) FetchBranch(name string) error                { return nil }

func (g *fakeGit) CreateBranchFrom(name, base string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches[name] = true
	return nil
}

func (g *fakeGit) WorktreeAdd(path, branch, base string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches[branch] = true
	g.worktrees[path] = branch
	return nil
}

func (g *fakeGit) WorktreeRemove(path string, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.worktrees, path)
	g.removed = append(g.removed, path)
	return nil
}

func (g *fakeGit) WorktreeListPorcelain() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.porcelain, nil
}

func (g *fakeGit) WorktreePrune() error { return nil }

func (g *fakeGit) Diff(base, branch string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.diff, nil
}

func (g *fakeGit) UniqueBranchName(base string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := base
	for i := 2; g.branches[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name, nil
}

var _ git.Runner = (*fakeGit)(nil)

// fakeProcess is a scriptable agent process.
type fakeProcess struct {
	opts     runtime.StartOptions
	events   chan runtime.StreamEvent
	exitCode int
	exitErr  error
	exited   chan struct{}
	once     sync.Once
}

func (p *fakeProcess) Events() <-chan runtime.StreamEvent { return p.events }

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.exitErr
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		p.exitCode = -1
		p.exitErr = fmt.Errorf("killed")
		close(p.events)
		close(p.exited)
	})
	return nil
}

// finish ends the process after emitting the given events.
func (p *fakeProcess) finish(code int, events ...runtime.StreamEvent) {
	p.once.Do(func() {
		for _, ev := range events {
			p.events <- ev
		}
		p.exitCode = code
		close(p.events)
		close(p.exited)
	})
}

// fakeRunner launches fakeProcesses and records every start.
type fakeRunner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	// script, when set, is applied to each new process before it is
	// returned (e.g. to finish it immediately).
	script func(p *fakeProcess)
}

func (r *fakeRunner) Start(ctx context.Context, opts runtime.StartOptions) (runtime.Process, error) {
	p := &fakeProcess{
		opts:   opts,
		events: make(chan runtime.StreamEvent, 16),
		exited: make(chan struct{}),
	}
	r.mu.Lock()
	r.procs = append(r.procs, p)
	script := r.script
	r.mu.Unlock()
	if script != nil {
		script(p)
	}
	return p, nil
}

func (r *fakeRunner) started() []*fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeProcess(nil), r.procs...)
}

var _ runtime.ContainerRunner = (*fakeRunner)(nil)

// testEnv bundles an orchestrator with its fakes.
type testEnv struct {
	orch   *Orchestrator
	db     *store.DB
	beads  *fakeBeads
	git    *fakeGit
	runner *fakeRunner
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Poller.Interval = 10 * time.Millisecond
	cfg.Poller.StaleAssignmentAge = 50 * time.Millisecond
	cfg.Runtime.StopGrace = 10 * time.Millisecond
	cfg.Agents.WorktreeDir = t.TempDir()
	cfg.Agents.MemoryDir = t.TempDir()

	fb := newFakeBeads()
	fg := newFakeGit()
	fr := &fakeRunner{}

	orch, err := New(Options{
		Config:     cfg,
		DB:         db,
		Beads:      fb,
		Containers: fr,
		Repos:      map[string]string{DefaultRepoID: t.TempDir()},
		NewGit:     func(string) git.Runner { return fg },
		Logger:     nopLogger{},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	// Drain events so emitters never hit the drop path.
	go func() {
		for range orch.Events() {
		}
	}()
	t.Cleanup(orch.Shutdown)

	return &testEnv{orch: orch, db: db, beads: fb, git: fg, runner: fr, cfg: cfg}
}

// makePlan saves a plan in the given status.
func (e *testEnv) makePlan(t *testing.T, status models.PlanStatus) *models.Plan {
	t.Helper()
	plan, err := e.orch.CreatePlan(CreatePlanOptions{Title: "Test Plan"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if status != models.PlanStatusDraft {
		if err := e.db.UpdatePlanStatus(plan.ID, status); err != nil {
			t.Fatalf("set plan status: %v", err)
		}
		plan.Status = status
	}
	return plan
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPartitionReady(t *testing.T) {
	closed := map[string]bool{"a": true}
	ready := []*beads.Task{
		{ID: "t1"},
		{ID: "t2", BlockedBy: []string{"a"}},
		{ID: "t3", BlockedBy: []string{"a", "b"}},
	}

	dispatchable, deferred := partitionReady(ready, closed)
	if len(dispatchable) != 2 {
		t.Fatalf("expected 2 dispatchable, got %d", len(dispatchable))
	}
	if len(deferred) != 1 || deferred[0].ID != "t3" {
		t.Fatalf("expected t3 deferred, got %+v", deferred)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Add OAuth Support":  "add-oauth-support",
		"fix  bug!! (now)":   "fix-bug-now",
		"--already-slugged-": "already-slugged",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1)
	e.Emit(Event{Type: EventPlanUpdated})
	e.Emit(Event{Type: EventPlanUpdated})

	if e.DroppedCount() != 1 {
		t.Errorf("expected 1 dropped event, got %d", e.DroppedCount())
	}

	select {
	case ev := <-e.Events():
		if ev.Type != EventPlanUpdated {
			t.Errorf("unexpected event type %s", ev.Type)
		}
	default:
		t.Error("expected a buffered event")
	}
}

func TestLastResultMessage(t *testing.T) {
	info := models.HeadlessAgentInfo{Events: []models.AgentEvent{
		{Kind: "system", Message: "init"},
		{Kind: "result", Message: "first"},
		{Kind: "result", Message: "APPROVED"},
	}}
	if got := lastResultMessage(info); got != "APPROVED" {
		t.Errorf("lastResultMessage = %q, want APPROVED", got)
	}
	if got := lastResultMessage(models.HeadlessAgentInfo{}); got != "" {
		t.Errorf("expected empty message, got %q", got)
	}
}

func TestStartRemovesOrphanedWorktrees(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)

	base := env.cfg.Agents.WorktreeDir
	kept := filepath.Join(base, plan.ID, "bead-1")
	orphan := filepath.Join(base, "deleted-plan", "bead-9")

	stored, err := env.db.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	stored.Worktrees = append(stored.Worktrees, &models.PlanWorktree{
		ID: "wt1", PlanID: plan.ID, TaskID: "bead-1", RepositoryID: DefaultRepoID,
		Path: kept, Branch: "planfleet/task-bead-1", BaseBranch: "main",
		Status: models.WorktreeStatusActive, CreatedAt: time.Now(),
	})
	if err := env.db.SavePlan(stored); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	env.git.mu.Lock()
	env.git.porcelain = strings.Join([]string{
		"worktree /repo",
		"HEAD abc123",
		"branch refs/heads/main",
		"",
		"worktree " + kept,
		"HEAD def456",
		"",
		"worktree " + orphan,
		"HEAD 789abc",
		"",
	}, "\n")
	env.git.mu.Unlock()

	if err := env.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	env.git.mu.Lock()
	removed := append([]string(nil), env.git.removed...)
	env.git.mu.Unlock()
	for _, p := range removed {
		if p == kept {
			t.Errorf("tracked worktree %s was removed", kept)
		}
		if p == "/repo" {
			t.Error("main checkout was removed")
		}
	}
	found := false
	for _, p := range removed {
		if p == orphan {
			found = true
		}
	}
	if !found {
		t.Errorf("orphan %s not removed, removed: %v", orphan, removed)
	}
}

func TestCycleWarningCoversOpenTasks(t *testing.T) {
	env := newTestEnv(t)
	plan := env.makePlan(t, models.PlanStatusInProgress)

	ctx := context.Background()
	labels := []string{beads.LabelPlanPrefix + plan.ID, beads.LabelRepoPrefix + DefaultRepoID}
	first, err := env.beads.Create(ctx, "Schema first", beads.TaskTypeWork, labels)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	second, err := env.beads.Create(ctx, "Data first", beads.TaskTypeWork, labels)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	// Neither task is ready; the cycle keeps both stuck open.
	if err := env.beads.AddDependency(ctx, first, second); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if err := env.beads.AddDependency(ctx, second, first); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	if _, err := env.orch.syncPlan(ctx, plan.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}

	activities, err := env.db.ListActivities(plan.ID, 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	found := false
	for _, a := range activities {
		if strings.Contains(a.Message, "dependency cycle detected") {
			found = true
		}
	}
	if !found {
		t.Error("no cycle warning logged for a cycle among open tasks")
	}
}

func TestBuildTaskPromptMentionsClose(t *testing.T) {
	task := &beads.Task{ID: "bead-9", Title: "Add caching"}
	prompt := buildTaskPrompt(task)
	if !strings.Contains(prompt, "bd close bead-9") {
		t.Errorf("prompt missing close instruction: %s", prompt)
	}
	if !strings.Contains(prompt, "Add caching") {
		t.Errorf("prompt missing task title")
	}
}
