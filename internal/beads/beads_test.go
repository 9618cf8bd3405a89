package beads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeCommandRunner records bd invocations and returns scripted output.
type fakeCommandRunner struct {
	calls   [][]string
	methods []string // "run" or "output", parallel to calls
	outputs map[string][]byte
	err     error
}

func (r *fakeCommandRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return r.record("run", name, args)
}

func (r *fakeCommandRunner) Output(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return r.record("output", name, args)
}

func (r *fakeCommandRunner) record(method, name string, args []string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	r.methods = append(r.methods, method)
	if r.err != nil {
		return []byte("bd: something went wrong"), r.err
	}
	if out, ok := r.outputs[strings.Join(args, " ")]; ok {
		return out, nil
	}
	return []byte("{}"), nil
}

func (r *fakeCommandRunner) lastCall() string {
	if len(r.calls) == 0 {
		return ""
	}
	return strings.Join(r.calls[len(r.calls)-1], " ")
}

func newTestClient(outputs map[string][]byte) (*CLIClient, *fakeCommandRunner) {
	runner := &fakeCommandRunner{outputs: outputs}
	return NewCLIClientWithRunner("/repo", runner), runner
}

func TestCreateBuildsTypeAndLabelFlags(t *testing.T) {
	c, runner := newTestClient(map[string][]byte{
		"create --title Fix parser --json --type fixup --label plan:p1,worktree:bead-9": []byte(`{"id":"bead-12"}`),
	})

	id, err := c.Create(context.Background(), "Fix parser", "fixup", []string{"plan:p1", "worktree:bead-9"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "bead-12" {
		t.Errorf("id = %q, want bead-12", id)
	}
	want := "bd create --title Fix parser --json --type fixup --label plan:p1,worktree:bead-9"
	if got := runner.lastCall(); got != want {
		t.Errorf("invocation = %q, want %q", got, want)
	}
}

func TestCreateRejectsMissingID(t *testing.T) {
	c, _ := newTestClient(nil)
	if _, err := c.Create(context.Background(), "t", "", nil); err == nil {
		t.Fatal("expected error for empty create response")
	}
}

func TestListFiltersByStatusAndLabels(t *testing.T) {
	c, runner := newTestClient(map[string][]byte{
		"list --json --status ready --label plan:p1": []byte(`[{"id":"bead-1","title":"a","status":"ready","labels":["plan:p1"]}]`),
	})

	tasks, err := c.List(context.Background(), Filter{Status: TaskStatusReady, Labels: []string{"plan:p1"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "bead-1" {
		t.Fatalf("tasks = %+v, want one bead-1", tasks)
	}
	if got := runner.lastCall(); got != "bd list --json --status ready --label plan:p1" {
		t.Errorf("invocation = %q", got)
	}
}

func TestGetNotFound(t *testing.T) {
	c, _ := newTestClient(map[string][]byte{
		"show bead-9 --json": []byte(`{}`),
	})
	if _, err := c.Get(context.Background(), "bead-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSkipsEmptyMutation(t *testing.T) {
	c, runner := newTestClient(nil)
	if err := c.Update(context.Background(), "bead-1", Update{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("empty update invoked bd: %v", runner.calls)
	}
}

func TestMarkReadyAndDependencyCommands(t *testing.T) {
	c, runner := newTestClient(nil)
	ctx := context.Background()

	if err := c.MarkReady(ctx, "bead-1"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if got := runner.lastCall(); got != "bd update bead-1 --status ready" {
		t.Errorf("mark ready invocation = %q", got)
	}

	if err := c.AddDependency(ctx, "bead-1", "bead-2"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if got := runner.lastCall(); got != "bd dep add bead-2 --on bead-1" {
		t.Errorf("dep add invocation = %q", got)
	}
}

func TestMutationsUseCombinedOutput(t *testing.T) {
	c, runner := newTestClient(map[string][]byte{
		"show bead-1 --json": []byte(`{"id":"bead-1","title":"a"}`),
	})
	ctx := context.Background()

	if err := c.Close(ctx, "bead-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.MarkReady(ctx, "bead-1"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if _, err := c.Get(ctx, "bead-1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{"run", "run", "output"}
	if len(runner.methods) != len(want) {
		t.Fatalf("methods = %v, want %v", runner.methods, want)
	}
	for i, m := range want {
		if runner.methods[i] != m {
			t.Errorf("call %d used %s, want %s", i, runner.methods[i], m)
		}
	}
}

func TestCommandFailureWrapsInvocation(t *testing.T) {
	runner := &fakeCommandRunner{err: fmt.Errorf("exit status 1")}
	c := NewCLIClientWithRunner("/repo", runner)

	err := c.Close(context.Background(), "bead-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bd close bead-1") {
		t.Errorf("error %q does not name the failed invocation", err)
	}
	if !strings.Contains(err.Error(), "something went wrong") {
		t.Errorf("error %q does not carry the CLI's output", err)
	}
}

func TestTaskLabelHelpers(t *testing.T) {
	task := &Task{
		ID:     "bead-1",
		Labels: []string{"plan:p1", "repo:backend", LabelNeedsTriage},
	}

	if !task.HasLabel(LabelNeedsTriage) {
		t.Error("HasLabel missed needs-triage")
	}
	if task.HasLabel("needs") {
		t.Error("HasLabel matched a prefix")
	}
	if got := task.LabelValue(LabelRepoPrefix); got != "backend" {
		t.Errorf("LabelValue(repo:) = %q, want backend", got)
	}
	if got := task.LabelValue(LabelWorktreePrefix); got != "" {
		t.Errorf("LabelValue(worktree:) = %q, want empty", got)
	}
}

func TestFindCycles(t *testing.T) {
	tasks := []*Task{
		{ID: "a", BlockedBy: []string{"b"}},
		{ID: "b", BlockedBy: []string{"c"}},
		{ID: "c", BlockedBy: []string{"a"}},
		{ID: "d", BlockedBy: []string{"a"}},
		{ID: "e"},
	}

	cycles := FindCycles(tasks)
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1: %v", len(cycles), cycles)
	}
	if len(cycles[0]) != 3 {
		t.Errorf("cycle = %v, want 3 members", cycles[0])
	}
	seen := make(map[string]bool)
	for _, id := range cycles[0] {
		seen[id] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Errorf("cycle %v missing %s", cycles[0], id)
		}
	}
}

func TestFindCyclesIgnoresExternalEdges(t *testing.T) {
	tasks := []*Task{
		{ID: "a", BlockedBy: []string{"outside"}},
		{ID: "b", BlockedBy: []string{"a"}},
	}
	if cycles := FindCycles(tasks); len(cycles) != 0 {
		t.Fatalf("got cycles %v from edges into unknown tasks", cycles)
	}
}

func TestFindCyclesSelfLoop(t *testing.T) {
	tasks := []*Task{{ID: "a", BlockedBy: []string{"a"}}}
	cycles := FindCycles(tasks)
	if len(cycles) != 1 || len(cycles[0]) != 1 || cycles[0][0] != "a" {
		t.Fatalf("cycles = %v, want [[a]]", cycles)
	}
}
