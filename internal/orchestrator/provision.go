package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planfleet/planfleet/internal/beads"
	"github.com/planfleet/planfleet/internal/git"
	"github.com/planfleet/planfleet/pkg/models"
)

// errAtCapacity signals that the plan's parallelism cap was hit between the
// dispatch check and the worktree commit. Not an error worth surfacing; the
// task dispatches on a later cycle.
var errAtCapacity = errors.New("plan at parallelism cap")

// maxParallelFor returns the plan's cap, falling back to the configured
// default for plans created before the field existed.
func (o *Orchestrator) maxParallelFor(plan *models.Plan) int {
	if plan.MaxParallelAgents > 0 {
		return plan.MaxParallelAgents
	}
	return o.config().Agents.MaxParallel
}

// canSpawnMoreAgents reports whether the plan has a free worktree slot.
func (o *Orchestrator) canSpawnMoreAgents(plan *models.Plan) bool {
	return plan.ActiveWorktreeCount() < o.maxParallelFor(plan)
}

// provisionWorktree creates the branch and worktree for a task's agent.
// Git mutations for one repository are serialized through the repo lock;
// the worktree is recorded on the plan under the plan lock, and removed
// again if that record cannot be committed.
func (o *Orchestrator) provisionWorktree(ctx context.Context, plan *models.Plan, task *beads.Task) (*models.PlanWorktree, error) {
	repoID := task.LabelValue(beads.LabelRepoPrefix)
	if repoID == "" {
		repoID = DefaultRepoID
	}
	root, ok := o.repoRoot(repoID)
	if !ok {
		return nil, fmt.Errorf("unknown repository %q", repoID)
	}

	lock := o.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	g := o.newGit(root)

	base, err := o.baseBranchFor(plan, task, g)
	if err != nil {
		return nil, fmt.Errorf("resolve base branch: %w", err)
	}

	branch, err := g.UniqueBranchName("planfleet/task-" + slugify(task.ID))
	if err != nil {
		return nil, fmt.Errorf("pick branch name: %w", err)
	}

	path := filepath.Join(o.worktreeBase(), plan.ID, task.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create worktree parent dir: %w", err)
	}
	if err := g.WorktreeAdd(path, branch, base); err != nil {
		return nil, fmt.Errorf("add worktree: %w", err)
	}

	wt := &models.PlanWorktree{
		ID:           uuid.New().String(),
		PlanID:       plan.ID,
		TaskID:       task.ID,
		RepositoryID: repoID,
		Path:         path,
		Branch:       branch,
		BaseBranch:   base,
		Status:       models.WorktreeStatusActive,
		BlockedBy:    append([]string(nil), task.BlockedBy...),
		CreatedAt:    time.Now(),
	}

	if _, err := o.mutatePlan(plan.ID, func(p *models.Plan) error {
		if p.WorktreeForTask(task.ID) != nil {
			return fmt.Errorf("worktree already exists for task %s", task.ID)
		}
		if p.ActiveWorktreeCount() >= o.maxParallelFor(p) {
			return errAtCapacity
		}
		p.Worktrees = append(p.Worktrees, wt)
		return nil
	}); err != nil {
		// Undo the git side before giving the slot back.
		if rmErr := g.WorktreeRemove(path, true); rmErr != nil {
			o.logger.Logf("remove worktree after failed commit: %v", rmErr)
		}
		return nil, err
	}
	return wt, nil
}

// baseBranchFor computes the branch a task branch is cut from. With the
// raise-PRs strategy every task branches off the default branch. With a
// shared feature branch, a task with exactly one blocker stacks on that
// blocker's branch so its work is visible; everything else starts from the
// feature branch.
func (o *Orchestrator) baseBranchFor(plan *models.Plan, task *beads.Task, g git.Runner) (string, error) {
	if plan.BranchStrategy == models.BranchStrategyRaisePRs {
		return g.DefaultBranch()
	}

	if len(task.BlockedBy) == 1 {
		if dep := plan.WorktreeForTask(task.BlockedBy[0]); dep != nil {
			return dep.Branch, nil
		}
	}
	return o.ensureFeatureBranch(plan, g)
}

// ensureFeatureBranch returns the plan's shared feature branch, creating
// and persisting it on first use.
func (o *Orchestrator) ensureFeatureBranch(plan *models.Plan, g git.Runner) (string, error) {
	name := plan.FeatureBranch
	if name == "" {
		base := "planfleet/" + slugify(plan.Title)
		unique, err := g.UniqueBranchName(base)
		if err != nil {
			return "", err
		}
		name = unique
	}

	exists, err := g.BranchExists(name)
	if err != nil {
		return "", err
	}
	if !exists {
		remote, err := g.RemoteBranchExists(name)
		if err != nil {
			return "", err
		}
		if remote {
			if err := g.FetchBranch(name); err != nil {
				return "", fmt.Errorf("fetch feature branch: %w", err)
			}
		} else {
			def, err := g.DefaultBranch()
			if err != nil {
				return "", err
			}
			if err := g.CreateBranchFrom(name, def); err != nil {
				return "", fmt.Errorf("create feature branch: %w", err)
			}
		}
	}

	if plan.FeatureBranch != name {
		if _, err := o.mutatePlan(plan.ID, func(p *models.Plan) error {
			if p.FeatureBranch == "" {
				p.FeatureBranch = name
			}
			return nil
		}); err != nil {
			return "", err
		}
	}
	return name, nil
}

// worktreeBase returns the directory task worktrees are created under.
func (o *Orchestrator) worktreeBase() string {
	if dir := o.config().Agents.WorktreeDir; dir != "" {
		return dir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		cache = os.TempDir()
	}
	return filepath.Join(cache, "planfleet", "worktrees")
}

// slugify lowercases s and collapses runs of non-alphanumerics to dashes.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
