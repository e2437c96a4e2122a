// Package tui implements the `conductor top` live diagnostics dashboard,
// a terminal mirror of GET /diagnostics.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/voxloop/conductor/core"
)

// Source supplies the live diagnostics snapshot the dashboard polls.
type Source interface {
	Diagnostics() core.Diagnostics
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(24)
	valueStyle = lipgloss.NewStyle().Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginBottom(1)

	stateStyles = map[core.State]lipgloss.Style{
		core.StateIdle:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		core.StateListening:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		core.StateProcessing:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		core.StateSpeaking:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		core.StateActive:      lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
		core.StateInterrupted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	source Source
	diag   core.Diagnostics
	width  int
	queue  progress.Model
}

// NewModel returns a Model polling source at a fixed interval, seeded
// with an immediate first snapshot so the dashboard never renders blank.
func NewModel(source Source) Model {
	return Model{
		source: source,
		diag:   source.Diagnostics(),
		queue:  progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.queue.Width = msg.Width - labelStyle.GetWidth() - 2
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.diag = m.source.Diagnostics()
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}

	style, ok := stateStyles[m.diag.State]
	if !ok {
		style = valueStyle
	}

	occupancy := 0.0
	if core.AudioStageCapacity > 0 {
		occupancy = float64(m.diag.AudioQueueOccupancy) / float64(core.AudioStageCapacity)
	}

	body := titleStyle.Render("conductor") + "\n" +
		labelStyle.Render("state") + style.Render(string(m.diag.State)) + "\n" +
		row("background tasks", fmt.Sprintf("%d", m.diag.BackgroundTaskCount)) + "\n" +
		labelStyle.Render("audio queue occupancy") + m.queue.ViewAs(occupancy) + "\n" +
		row("db pool free", fmt.Sprintf("%d", m.diag.DBPoolFree)) + "\n\n" +
		labelStyle.Render("press q to quit")

	width := m.width
	if width <= 0 {
		width = 80
	}
	return wordwrap.String(body, width)
}
