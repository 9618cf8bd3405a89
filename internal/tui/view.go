package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/planfleet/planfleet/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			MarginTop(1)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("28"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	if a.loadErr != nil {
		return errStyle.Render(fmt.Sprintf("cannot load plan: %v", a.loadErr)) + "\n"
	}
	if a.plan == nil {
		return a.spinner.View() + " loading...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(a.plan.Title))
	b.WriteString(statusStyle.Render(fmt.Sprintf("  [%s]", a.plan.Status)))
	if a.plan.Status.Active() {
		b.WriteString(" " + a.spinner.View())
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Worktrees"))
	b.WriteString("\n")
	if len(a.plan.Worktrees) == 0 {
		b.WriteString(dimStyle.Render("  none yet"))
		b.WriteString("\n")
	}
	for _, wt := range a.plan.Worktrees {
		b.WriteString(a.renderWorktree(wt))
		b.WriteString("\n")
	}

	if running := a.runningAgents(); len(running) > 0 {
		b.WriteString(sectionStyle.Render("Agents"))
		b.WriteString("\n")
		for _, ag := range running {
			b.WriteString(fmt.Sprintf("  %s %s %s\n",
				a.spinner.View(),
				statusBadge(ag.Status),
				dimStyle.Render(fmt.Sprintf("%s task=%s", ag.Type, ag.TaskID))))
		}
	}

	b.WriteString(sectionStyle.Render("Activity"))
	b.WriteString("\n")
	if len(a.activities) == 0 {
		b.WriteString(dimStyle.Render("  quiet so far"))
		b.WriteString("\n")
	}
	for _, act := range a.activities {
		b.WriteString("  ")
		b.WriteString(renderActivity(act))
		b.WriteString("\n")
	}

	b.WriteString(hintStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

// renderWorktree formats one worktree line with its review state.
func (a *App) renderWorktree(wt *models.PlanWorktree) string {
	badge := okStyle.Render("active")
	if wt.Status == models.WorktreeStatusCleaned {
		badge = dimStyle.Render("cleaned")
	}

	review := ""
	switch wt.CriticStatus {
	case models.CriticStatusReviewing:
		review = warnStyle.Render(fmt.Sprintf(" review #%d", wt.CriticIteration))
	case models.CriticStatusApproved:
		review = okStyle.Render(" approved")
	case models.CriticStatusRejected:
		review = errStyle.Render(fmt.Sprintf(" rejected (%d fixups)", wt.TotalFixupCount))
	}

	return fmt.Sprintf("  %s %s %s%s", badge, wt.TaskID, dimStyle.Render(wt.Branch), review)
}

// runningAgents filters the tracked agents down to live ones.
func (a *App) runningAgents() []models.HeadlessAgentInfo {
	var out []models.HeadlessAgentInfo
	for _, ag := range a.agents {
		if !ag.Status.Terminal() {
			out = append(out, ag)
		}
	}
	return out
}

// statusBadge colors an agent status.
func statusBadge(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusCompleted:
		return okStyle.Render(string(s))
	case models.AgentStatusFailed:
		return errStyle.Render(string(s))
	case models.AgentStatusRunning:
		return warnStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

// renderActivity colors one timeline entry by kind.
func renderActivity(act *models.Activity) string {
	ts := dimStyle.Render(act.CreatedAt.Format("15:04:05"))
	switch act.Kind {
	case models.ActivityWarning:
		return ts + " " + warnStyle.Render(act.Message)
	case models.ActivityError:
		return ts + " " + errStyle.Render(act.Message)
	case models.ActivityReview:
		return ts + " " + okStyle.Render(act.Message)
	default:
		return ts + " " + act.Message
	}
}
