// Package ui renders long-running tool tasks with a terminal spinner.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type doneMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	frame   int
	start   time.Time
	done    bool
	details []string
	err     error

	cancel  context.CancelFunc
	results chan doneMsg
}

// Run executes fn while rendering a spinner named by title. Ctrl+C cancels
// the context passed to fn; fn's details are returned either way.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan doneMsg, 1)
	go func() {
		details, err := fn(ctx)
		results <- doneMsg{details: details, err: err}
	}()

	m := model{title: title, start: time.Now(), cancel: cancel, results: results}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	fm, ok := final.(model)
	if !ok {
		return nil, fmt.Errorf("unexpected final model %T", final)
	}
	return fm.details, fm.err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForResult())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, nil
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if m.done {
		if m.err != nil {
			b.WriteString(failStyle.Render("✗ " + m.title))
			b.WriteString(detailStyle.Render(fmt.Sprintf("  (%v)", m.err)))
		} else {
			b.WriteString(okStyle.Render("✓ " + m.title))
		}
	} else {
		b.WriteString(spinnerFrames[m.frame])
		b.WriteString(" ")
		b.WriteString(titleStyle.Render(m.title))
		b.WriteString(detailStyle.Render(fmt.Sprintf("  %s", time.Since(m.start).Round(time.Second))))
	}
	b.WriteString("\n")
	for _, d := range m.details {
		b.WriteString(detailStyle.Render("  - " + d))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) waitForResult() tea.Cmd {
	return func() tea.Msg { return <-m.results }
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}
