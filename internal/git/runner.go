package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoRoot string
}

// NewRunner creates a git runner for the repository at the given root.
func NewRunner(repoRoot string) *ExecRunner {
	return &ExecRunner{repoRoot: repoRoot}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// CurrentBranch returns the name of the checked-out branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// DefaultBranch returns the repository's default branch.
func (r *ExecRunner) DefaultBranch() (string, error) {
	out, err := r.run("symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err == nil {
		return strings.TrimPrefix(out, "origin/"), nil
	}
	// No origin/HEAD ref; fall back to main, then the current branch.
	if ok, _ := r.BranchExists("main"); ok {
		return "main", nil
	}
	return r.CurrentBranch()
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoRoot
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the branch doesn't exist (not an error).
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// RemoteBranchExists returns true if the branch exists on origin.
func (r *ExecRunner) RemoteBranchExists(name string) (bool, error) {
	out, err := r.run("ls-remote", "--heads", "origin", name)
	if err != nil {
		// No remote configured behaves like the branch not existing.
		return false, nil
	}
	return out != "", nil
}

// FetchBranch fetches the branch from origin into a local tracking ref.
func (r *ExecRunner) FetchBranch(name string) error {
	return r.runSilent("fetch", "origin", name+":"+name)
}

// CreateBranchFrom creates a branch at the given base without checking it out.
func (r *ExecRunner) CreateBranchFrom(name, base string) error {
	return r.runSilent("branch", name, base)
}

// WorktreeAdd creates a worktree at path on a new branch cut from base.
func (r *ExecRunner) WorktreeAdd(path, branch, base string) error {
	return r.runSilent("worktree", "add", "-b", branch, path, base)
}

// WorktreeRemove removes the worktree at path, optionally forcing.
func (r *ExecRunner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, path)
	return r.runSilent(args...)
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// ParseWorktreePaths extracts the checkout paths from `git worktree list
// --porcelain` output. The first path is the main checkout.
func ParseWorktreePaths(porcelain string) []string {
	var paths []string
	for _, line := range strings.Split(porcelain, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths
}

// WorktreePrune drops references to worktrees no longer on disk.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}

// Diff returns the changes on branch relative to its merge base with base.
func (r *ExecRunner) Diff(base, branch string) (string, error) {
	return r.run("diff", base+"..."+branch)
}

// UniqueBranchName returns base, or base with a numeric suffix when the
// branch already exists locally or on origin.
func (r *ExecRunner) UniqueBranchName(base string) (string, error) {
	name := base
	for i := 2; ; i++ {
		local, err := r.BranchExists(name)
		if err != nil {
			return "", err
		}
		remote, err := r.RemoteBranchExists(name)
		if err != nil {
			return "", err
		}
		if !local && !remote {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
