package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reimage/internal/processor"
)

// PollInterval is how often the model refreshes its status snapshot.
const PollInterval = 100 * time.Millisecond

type Source interface {
	Status() processor.Status
}

type Model struct {
	title    string
	source   Source
	done     <-chan struct{}
	stop     func()
	started  time.Time
	width    int
	status   processor.Status
	stopping bool
	quitting bool
}

type tickMsg time.Time

type doneMsg struct{}

// NewModel polls source until done is closed. stop is called once when the
// user asks to quit and may be nil.
func NewModel(title string, source Source, done <-chan struct{}, stop func()) Model {
	return Model{
		title:   title,
		source:  source,
		done:    done,
		stop:    stop,
		started: time.Now(),
		status:  source.Status(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForDone(m.done))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.status = m.source.Status()
		return m, tick()
	case doneMsg:
		m.status = m.source.Status()
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.stopping {
				return m, nil
			}
			m.stopping = true
			return m, stopCmd(m.stop)
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) Status() processor.Status {
	return m.status
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.status.Files > 0 {
		ratio = float64(m.status.Images) / float64(m.status.Files)
	}

	elapsed := time.Since(m.started).Round(time.Millisecond)
	hint := "q to stop"
	if m.stopping {
		hint = "stopping..."
	}

	lines := []string{
		titleStyle.Render(m.title),
		labelStyle.Render(m.status.String()),
		labelStyle.Render(fmt.Sprintf("Images: %d", m.status.Images)) + dimStyle.Render(fmt.Sprintf("  failed:%d", m.status.Failed)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		barStyle.Render(renderBar(barWidth, ratio)),
		dimStyle.Render(hint),
	}

	return strings.Join(lines, "\n")
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// stopCmd runs stop off the event loop. stop may log, and log lines are
// delivered back through that same loop.
func stopCmd(stop func()) tea.Cmd {
	if stop == nil {
		return nil
	}
	return func() tea.Msg {
		stop()
		return nil
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func renderBar(width int, ratio float64) string {
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
)
