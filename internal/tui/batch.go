// Package tui provides terminal UI components for batch retrieval.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/biblio/internal/fetch"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("110")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("77"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("221"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Faint(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("110")).
			Padding(1, 2)
)

const maxLogLines = 8

var runProgram = func(m tea.Model) (tea.Model, error) {
	return tea.NewProgram(m).Run()
}

type outcomeMsg struct {
	outcome fetch.Outcome
}

type batchDoneMsg struct{}

type logLine struct {
	text  string
	style lipgloss.Style
}

// BatchModel renders live progress for a retrieval batch. Outcomes
// arrive on a channel fed by the orchestrator's callback; closing the
// channel marks the batch finished.
type BatchModel struct {
	title    string
	total    int
	outcomes <-chan fetch.Outcome
	cancel   context.CancelFunc

	spinner  spinner.Model
	progress progress.Model

	succeeded int
	failed    int
	skipped   int
	byClass   map[fetch.Classification]int
	logs      []logLine

	done      bool
	cancelled bool
	width     int
}

// NewBatchModel creates the progress model for a batch of total tasks.
func NewBatchModel(title string, total int, outcomes <-chan fetch.Outcome, cancel context.CancelFunc) BatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	return BatchModel{
		title:    title,
		total:    total,
		outcomes: outcomes,
		cancel:   cancel,
		spinner:  sp,
		progress: prog,
		byClass:  make(map[fetch.Classification]int),
	}
}

// Init starts the spinner and the outcome listener.
func (m BatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitOutcome())
}

// waitOutcome blocks on the outcome channel and converts each result
// into a message for Update.
func (m BatchModel) waitOutcome() tea.Cmd {
	return func() tea.Msg {
		o, ok := <-m.outcomes
		if !ok {
			return batchDoneMsg{}
		}
		return outcomeMsg{outcome: o}
	}
}

// Update handles messages and updates the model.
func (m BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 10
		if m.progress.Width > 70 {
			m.progress.Width = 70
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			// Ask the engine to stop; it closes the channel when the
			// in-flight tasks have wound down.
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
		case "q":
			if m.done {
				return m, tea.Quit
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case outcomeMsg:
		m.apply(msg.outcome)
		cmds = append(cmds, m.progress.SetPercent(m.fraction()), m.waitOutcome())

	case batchDoneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *BatchModel) apply(o fetch.Outcome) {
	var line logLine
	switch o.Status {
	case fetch.StatusSucceeded:
		m.succeeded++
		line = logLine{text: "✓ " + o.TaskID, style: successStyle}
	case fetch.StatusSkipped:
		m.skipped++
		line = logLine{text: "- " + o.TaskID + " (already done)", style: dimStyle}
	case fetch.StatusFailed:
		m.failed++
		m.byClass[o.Classification]++
		line = logLine{
			text:  fmt.Sprintf("✗ %s [%s] %s", o.TaskID, o.Classification, o.Message),
			style: errorStyle,
		}
	}
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m BatchModel) completed() int {
	return m.succeeded + m.failed + m.skipped
}

func (m BatchModel) fraction() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed()) / float64(m.total)
}

// View renders the UI.
func (m BatchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	if m.done {
		b.WriteString(m.viewComplete())
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("q: quit"))
		return b.String()
	}

	b.WriteString(m.spinner.View())
	if m.cancelled {
		b.WriteString(" " + warningStyle.Render("Cancelling, waiting for in-flight tasks..."))
	} else {
		b.WriteString(fmt.Sprintf(" Retrieving %d/%d", m.completed(), m.total))
	}
	b.WriteString("\n\n")

	b.WriteString(m.progress.ViewAs(m.fraction()))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"ok: %d  failed: %d  skipped: %d", m.succeeded, m.failed, m.skipped)))
	b.WriteString("\n\n")

	for _, line := range m.logs {
		b.WriteString(line.style.Render(line.text))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("esc: cancel"))
	return b.String()
}

func (m BatchModel) viewComplete() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Succeeded: %d\nFailed:    %d\nSkipped:   %d",
		m.succeeded, m.failed, m.skipped))
	if len(m.byClass) > 0 {
		b.WriteString("\n\nFailures by class:")
		for _, class := range []fetch.Classification{
			fetch.ClassTransient, fetch.ClassRateLimited, fetch.ClassAuthExpired,
			fetch.ClassMalformed, fetch.ClassPermanent, fetch.ClassCredential,
		} {
			if n := m.byClass[class]; n > 0 {
				b.WriteString(fmt.Sprintf("\n  %-18s %d", class, n))
			}
		}
	}
	return boxStyle.Render(b.String())
}

// RunBatch drives the progress UI until the outcome channel closes.
func RunBatch(title string, total int, outcomes <-chan fetch.Outcome, cancel context.CancelFunc) error {
	_, err := runProgram(NewBatchModel(title, total, outcomes, cancel))
	return err
}
