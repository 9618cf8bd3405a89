package beads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planfleet/planfleet/internal/exec"
)

// CLIClient implements Client by shelling out to the bd CLI with --json.
type CLIClient struct {
	// workDir is the directory bd is invoked from (the project root).
	workDir string
	runner  exec.CommandRunner
}

// NewCLIClient creates a task-store client rooted at the given directory.
func NewCLIClient(workDir string) *CLIClient {
	return &CLIClient{workDir: workDir, runner: exec.NewRunner()}
}

// NewCLIClientWithRunner creates a client with a custom command runner (for testing).
func NewCLIClientWithRunner(workDir string, runner exec.CommandRunner) *CLIClient {
	return &CLIClient{workDir: workDir, runner: runner}
}

// bd invokes the CLI for a query and returns its stdout.
func (c *CLIClient) bd(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.runner.Output(ctx, c.workDir, "bd", args...)
	if err != nil {
		return nil, fmt.Errorf("bd %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// bdRun invokes the CLI for a mutation, where bd prints confirmations and
// warnings on stdout. Combined output lands in the error on failure.
func (c *CLIClient) bdRun(ctx context.Context, args ...string) error {
	out, err := c.runner.Run(ctx, c.workDir, "bd", args...)
	if err != nil {
		return fmt.Errorf("bd %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// createResponse is the JSON shape of bd create.
type createResponse struct {
	ID string `json:"id"`
}

// Create adds a task of the given type and returns its ID.
func (c *CLIClient) Create(ctx context.Context, title, taskType string, labels []string) (string, error) {
	args := []string{"create", "--title", title, "--json"}
	if taskType != "" {
		args = append(args, "--type", taskType)
	}
	if len(labels) > 0 {
		args = append(args, "--label", strings.Join(labels, ","))
	}
	out, err := c.bd(ctx, args...)
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("parse bd create output: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("bd create returned no id")
	}
	return resp.ID, nil
}

// List returns tasks matching the filter.
func (c *CLIClient) List(ctx context.Context, filter Filter) ([]*Task, error) {
	args := []string{"list", "--json"}
	if filter.Status != "" {
		args = append(args, "--status", string(filter.Status))
	}
	for _, label := range filter.Labels {
		args = append(args, "--label", label)
	}
	out, err := c.bd(ctx, args...)
	if err != nil {
		return nil, err
	}
	var tasks []*Task
	if err := json.Unmarshal(out, &tasks); err != nil {
		return nil, fmt.Errorf("parse bd list output: %w", err)
	}
	return tasks, nil
}

// Get returns a single task by ID.
func (c *CLIClient) Get(ctx context.Context, id string) (*Task, error) {
	out, err := c.bd(ctx, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(out, &task); err != nil {
		return nil, fmt.Errorf("parse bd show output: %w", err)
	}
	if task.ID == "" {
		return nil, ErrNotFound
	}
	return &task, nil
}

// Update applies a label mutation to the task.
func (c *CLIClient) Update(ctx context.Context, id string, update Update) error {
	args := []string{"update", id}
	for _, label := range update.AddLabels {
		args = append(args, "--add-label", label)
	}
	for _, label := range update.RemoveLabels {
		args = append(args, "--remove-label", label)
	}
	if len(args) == 2 {
		return nil
	}
	return c.bdRun(ctx, args...)
}

// Close marks the task closed.
func (c *CLIClient) Close(ctx context.Context, id string) error {
	return c.bdRun(ctx, "close", id)
}

// MarkReady releases the task for dispatch.
func (c *CLIClient) MarkReady(ctx context.Context, id string) error {
	return c.bdRun(ctx, "update", id, "--status", "ready")
}

// dependentsResponse is the JSON shape of bd dep list --down.
type dependentsResponse struct {
	Dependents []string `json:"dependents"`
}

// Dependents returns IDs of tasks blocked by the given task.
func (c *CLIClient) Dependents(ctx context.Context, id string) ([]string, error) {
	out, err := c.bd(ctx, "dep", "list", id, "--down", "--json")
	if err != nil {
		return nil, err
	}
	var resp dependentsResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parse bd dep list output: %w", err)
	}
	return resp.Dependents, nil
}

// AddDependency makes blockedID wait on blockerID.
func (c *CLIClient) AddDependency(ctx context.Context, blockerID, blockedID string) error {
	return c.bdRun(ctx, "dep", "add", blockedID, "--on", blockerID)
}

// DetectCycles lists the full graph and searches it locally. bd itself has
// no cycle query, and the graphs here are small enough for a full fetch.
func (c *CLIClient) DetectCycles(ctx context.Context) ([][]string, error) {
	tasks, err := c.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return FindCycles(tasks), nil
}

// Verify CLIClient implements Client at compile time.
var _ Client = (*CLIClient)(nil)
