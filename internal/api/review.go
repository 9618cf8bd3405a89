package api

import (
	"context"
	"fmt"
	"strings"
)

// ReviewResult contains the outcome of an API-backed critic review.
type ReviewResult struct {
	// Approved indicates the reviewer found nothing blocking.
	Approved bool
	// Fixups lists the follow-up task titles the reviewer requested.
	Fixups []string
	// ReviewerOutput contains the raw model output.
	ReviewerOutput string
}

// Review asks the model to review a completed task's diff. An approval
// carries no fixups; a rejection lists one fixup title per issue.
func (c *Client) Review(ctx context.Context, taskTitle, diff string) (*ReviewResult, error) {
	prompt := buildReviewPrompt(taskTitle, diff)
	output, err := c.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("request review: %w", err)
	}
	return ParseReview(output), nil
}

// buildReviewPrompt constructs the critic prompt.
func buildReviewPrompt(taskTitle, diff string) string {
	return fmt.Sprintf(`You are a code reviewer checking the changes made for a task.

TASK:
%s

DIFF TO REVIEW:
%s

Review the diff carefully.

Your response MUST include:
1. A clear APPROVED or NOT APPROVED verdict on the first line
2. If not approved, one line per required follow-up, each prefixed "FIXUP:",
   written as a short actionable task title

Focus on correctness, missing error handling, broken or absent tests, and
changes unrelated to the task. Do not reject for style alone.`, taskTitle, diff)
}

// ParseReview extracts the verdict and fixup titles from reviewer output.
// Container-backed critics emit the same format as API reviews, so both
// paths parse through here.
func ParseReview(output string) *ReviewResult {
	result := &ReviewResult{
		ReviewerOutput: output,
	}

	lines := strings.Split(output, "\n")

	// First non-empty line carries the verdict.
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "APPROVED") && !strings.Contains(upper, "NOT APPROVED") {
			result.Approved = true
		}
		break
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(line), "FIXUP:") {
			fixup := strings.TrimSpace(line[len("FIXUP:"):])
			if fixup != "" {
				result.Fixups = append(result.Fixups, fixup)
			}
		}
	}

	// A rejection with no parseable fixups still needs work recorded.
	if !result.Approved && len(result.Fixups) == 0 {
		result.Fixups = append(result.Fixups, "Address review feedback")
	}

	return result
}
