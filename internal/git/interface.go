// Package git provides an interface for git operations.
package git

// Runner defines the git operations the orchestrator consumes.
// This abstraction allows mocking git in tests.
type Runner interface {
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch() (string, error)
	// DefaultBranch returns the repository's default branch (origin/HEAD,
	// falling back to main).
	DefaultBranch() (string, error)
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// RemoteBranchExists returns true if the branch exists on origin.
	RemoteBranchExists(name string) (bool, error)
	// FetchBranch fetches the branch from origin.
	FetchBranch(name string) error
	// CreateBranchFrom creates a branch at the given base without checking it out.
	CreateBranchFrom(name, base string) error
	// WorktreeAdd creates a worktree at path on a new branch cut from base.
	WorktreeAdd(path, branch, base string) error
	// WorktreeRemove removes the worktree at path, optionally forcing.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns raw `git worktree list --porcelain` output.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune drops references to worktrees no longer on disk.
	WorktreePrune() error
	// Diff returns the changes on branch relative to its merge base with base.
	Diff(base, branch string) (string, error)
	// UniqueBranchName returns base, or base with a numeric suffix when the
	// branch already exists locally or on origin.
	UniqueBranchName(base string) (string, error)
}
