// Package tui renders the live plan watch view. It subscribes to the
// orchestrator's event stream and refreshes from the store, so the view
// stays current without polling the task store itself.
package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/planfleet/planfleet/internal/orchestrator"
	"github.com/planfleet/planfleet/internal/store"
	"github.com/planfleet/planfleet/pkg/models"
)

// activityWindow is how many timeline entries the view keeps on screen.
const activityWindow = 12

// App is the bubbletea model for watching one plan.
type App struct {
	planID string
	db     *store.DB
	events <-chan orchestrator.Event

	plan       *models.Plan
	agents     []models.HeadlessAgentInfo
	activities []*models.Activity

	spinner  spinner.Model
	width    int
	height   int
	quitting bool
	loadErr  error
}

// NewApp creates a watch view for the given plan.
func NewApp(planID string, db *store.DB, events <-chan orchestrator.Event) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &App{
		planID:  planID,
		db:      db,
		events:  events,
		spinner: s,
	}
}

// eventMsg wraps an orchestrator event for the bubbletea loop.
type eventMsg orchestrator.Event

// eventsClosedMsg signals the orchestrator shut down.
type eventsClosedMsg struct{}

// waitForEvent blocks on the next orchestrator event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	a.refresh()
	return tea.Batch(a.spinner.Tick, a.waitForEvent())
}

// refresh reloads the displayed state from the store.
func (a *App) refresh() {
	plan, err := a.db.GetPlan(a.planID)
	if err != nil {
		a.loadErr = err
		return
	}
	a.loadErr = nil
	a.plan = plan

	activities, err := a.db.ListActivities(a.planID, activityWindow)
	if err == nil {
		a.activities = activities
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case eventMsg:
		a.applyEvent(orchestrator.Event(msg))
		return a, a.waitForEvent()

	case eventsClosedMsg:
		a.quitting = true
		return a, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// applyEvent folds one orchestrator event into the view state.
func (a *App) applyEvent(ev orchestrator.Event) {
	if ev.PlanID != a.planID {
		return
	}

	switch ev.Type {
	case orchestrator.EventPlanUpdated:
		if ev.Plan != nil {
			a.plan = ev.Plan
		} else {
			a.refresh()
		}

	case orchestrator.EventPlanDeleted:
		a.quitting = true

	case orchestrator.EventActivityAppended:
		if ev.Activity != nil {
			a.activities = append(a.activities, ev.Activity)
			if len(a.activities) > activityWindow {
				a.activities = a.activities[len(a.activities)-activityWindow:]
			}
		}

	case orchestrator.EventAgentStatus, orchestrator.EventAgentEvent:
		if ev.Agent != nil {
			a.upsertAgent(*ev.Agent)
		}

	default:
		a.refresh()
	}
}

// upsertAgent replaces or appends one agent snapshot, dropping agents that
// finished more than a snapshot ago.
func (a *App) upsertAgent(info models.HeadlessAgentInfo) {
	for i := range a.agents {
		if a.agents[i].ID == info.ID {
			a.agents[i] = info
			return
		}
	}
	a.agents = append(a.agents, info)
}
