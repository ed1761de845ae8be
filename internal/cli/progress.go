package cli

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/aritana/internal/monitor"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#28A745"), // legal green
	Error:   lipgloss.Color("#DC3545"), // illegal red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobEventMsg carries one monitor event into the program.
type jobEventMsg monitor.Event

// eventsClosedMsg reports that the monitor stopped publishing.
type eventsClosedMsg struct{}

// jobRow is the display state of one watched job.
type jobRow struct {
	info     monitor.JobInfo
	finished bool
	err      string
}

// progressModel is the bubbletea model for watching jobs.
type progressModel struct {
	events   <-chan monitor.Event
	order    []string
	rows     map[string]*jobRow
	progress progress.Model
	theme    Theme
	quitting bool
}

func newProgressModel(events <-chan monitor.Event, ids []string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	rows := make(map[string]*jobRow, len(ids))
	for _, id := range ids {
		rows[id] = &jobRow{info: monitor.JobInfo{ID: id, Status: monitor.StatusPending}}
	}
	return progressModel{
		events:   events,
		order:    ids,
		rows:     rows,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts listening for monitor events.
func (m progressModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobEventMsg:
		row, ok := m.rows[msg.Job.ID]
		if !ok {
			return m, waitForEvent(m.events)
		}
		applyEvent(row, monitor.Event(msg))
		if m.allFinished() {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// applyEvent folds one event into a row.
func applyEvent(row *jobRow, ev monitor.Event) {
	row.info = ev.Job
	switch ev.Type {
	case monitor.EventDone:
		row.finished = true
	case monitor.EventFailed:
		row.finished = true
		row.err = ev.Error
	case monitor.EventRetry:
		row.err = ev.Error
	case monitor.EventProgress:
		row.err = ""
	}
}

func (m progressModel) allFinished() bool {
	for _, id := range m.order {
		if !m.rows[id].finished {
			return false
		}
	}
	return true
}

// failures returns the ids and messages of failed jobs in watch order.
func (m progressModel) failures() []string {
	var out []string
	for _, id := range m.order {
		if r := m.rows[id]; r.finished && r.err != "" {
			out = append(out, fmt.Sprintf("%s: %s", id, r.err))
		}
	}
	return out
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	var b strings.Builder
	for _, id := range m.order {
		r := m.rows[id]
		switch {
		case r.finished && r.err != "":
			b.WriteString(m.theme.errorStyle().Render("✗ "+id) + "  " + r.err + "\n")
		case r.finished:
			b.WriteString(m.theme.completedStyle().Render("✓ "+id) + "  analisada\n")
		default:
			status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", r.info.Status))
			line := fmt.Sprintf("%s %s %3d%%  %s", status, m.progress.ViewAs(float64(r.info.Progress)/100), r.info.Progress, id)
			if r.info.Message != "" {
				line += "  " + r.info.Message
			}
			if r.err != "" {
				line += m.theme.hintStyle().Render(fmt.Sprintf("  retry %d: %s", r.info.RetryCount, r.err))
			}
			b.WriteString(line + "\n")
		}
	}

	if m.quitting {
		b.WriteString(m.theme.hintStyle().Render("\nStopped watching. Analysis continues on the server; use 'aritana jobs <id>' to check status.\n"))
	} else if !m.allFinished() {
		b.WriteString(m.theme.hintStyle().Render("Press q or Ctrl+C to stop watching") + "\n")
	}
	return b.String()
}

// waitForEvent returns a command that delivers the next monitor event.
func waitForEvent(events <-chan monitor.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return jobEventMsg(ev)
	}
}

// runProgressUI shows live progress for ids until every job finished or the
// user quits. It returns the failed jobs.
func runProgressUI(events <-chan monitor.Event, ids []string) ([]string, error) {
	p := tea.NewProgram(newProgressModel(events, ids))

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok {
		return m.failures(), nil
	}
	return nil, nil
}
