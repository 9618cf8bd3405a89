package orchestrator

import (
	"fmt"
	"strings"

	"github.com/planfleet/planfleet/internal/beads"
)

// buildTaskPrompt produces the prompt a task agent starts with. The agent
// works in its worktree and closes its own task through bd when done.
func buildTaskPrompt(task *beads.Task) string {
	return fmt.Sprintf(`You are working on a single task in an isolated git worktree.

TASK %s: %s

Instructions:
- Implement the task completely, including tests where the codebase has them.
- Commit your work to the current branch. Do not switch branches.
- When the task is fully done, close it with: bd close %s
- If you cannot finish, leave the task open and exit non-zero.`,
		task.ID, task.Title, task.ID)
}

// buildCriticPrompt produces the prompt for a container-backed review
// agent. The verdict format matches what ParseReview expects.
func buildCriticPrompt(taskTitle, baseBranch string) string {
	return fmt.Sprintf(`You are reviewing the changes made for this task:

%s

Inspect the work with: git diff %s...HEAD

Your final message MUST include:
1. A clear APPROVED or NOT APPROVED verdict on the first line
2. If not approved, one line per required follow-up, each prefixed "FIXUP:",
   written as a short actionable task title

Focus on correctness, missing error handling, broken or absent tests, and
changes unrelated to the task. Do not reject for style alone.`, taskTitle, baseBranch)
}

// buildManagerPrompt produces the triage prompt for the manager agent.
func buildManagerPrompt(tasks []*beads.Task) string {
	return fmt.Sprintf(`You are the triage manager for incoming tasks. Persistent notes from
previous runs are in /memory; read them first and update them before you exit.

Tasks needing triage:
%s

For each task, using the bd CLI:
- If it should be worked on now, remove the %q label and mark it ready:
  bd update <id> --remove-label %s --status ready
- If it is optional and should not block plan completion, also add the
  %q label.
- If it duplicates existing work, close it with a note.`,
		formatTaskList(tasks), beads.LabelNeedsTriage, beads.LabelNeedsTriage, beads.LabelDeferredExempt)
}

// buildArchitectPrompt produces the decomposition prompt for the architect
// agent.
func buildArchitectPrompt(tasks []*beads.Task) string {
	return fmt.Sprintf(`You are the architect decomposing oversized tasks. Persistent notes from
previous runs are in /memory; read them first and update them before you exit.

Tasks needing decomposition:
%s

For each task, using the bd CLI:
- Create subtasks with bd create, copying the original task's plan and repo
  labels, and mark each ready.
- Add dependencies so the original task waits on its subtasks:
  bd dep add <original> --on <subtask>
- Remove the %q label from the original when done:
  bd update <id> --remove-label %s`,
		formatTaskList(tasks), beads.LabelNeedsDecomposition, beads.LabelNeedsDecomposition)
}

// formatTaskList renders tasks one per line for prompt inclusion.
func formatTaskList(tasks []*beads.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
