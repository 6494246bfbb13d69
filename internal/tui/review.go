// Package tui implements the Bubble Tea review browser for pending
// classification cases.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/the-radar/deliberate/internal/audit"
	"github.com/the-radar/deliberate/internal/risk"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	levelStyles = map[risk.Level]lipgloss.Style{
		risk.Safe:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		risk.Moderate: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		risk.High:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		risk.Critical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// reviewModel is the Bubble Tea model for the case browser.
type reviewModel struct {
	store   *audit.Store
	cases   []*audit.Case
	cursor  int
	status  string
	lastErr error
	width   int
	height  int
	ready   bool
}

func newReviewModel(store *audit.Store) (*reviewModel, error) {
	cases, err := store.ListPending()
	if err != nil {
		return nil, err
	}
	return &reviewModel{store: store, cases: cases}, nil
}

// Init implements tea.Model.
func (m *reviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.cases)-1 {
				m.cursor++
			}
		case "s":
			m.label(risk.Safe)
		case "m":
			m.label(risk.Moderate)
		case "h":
			m.label(risk.High)
		case "c":
			m.label(risk.Critical)
		case "a":
			m.approveSuggested()
		case "x":
			m.reject()
		case "r":
			m.reload()
		}
	}
	return m, nil
}

func (m *reviewModel) current() *audit.Case {
	if m.cursor < 0 || m.cursor >= len(m.cases) {
		return nil
	}
	return m.cases[m.cursor]
}

func (m *reviewModel) label(level risk.Level) {
	c := m.current()
	if c == nil {
		return
	}
	if _, err := m.store.Approve(c.ID, level); err != nil {
		m.lastErr = err
		return
	}
	m.lastErr = nil
	m.status = fmt.Sprintf("labeled %q as %s", truncateCmd(c.Command, 40), level)
	m.remove(m.cursor)
}

func (m *reviewModel) approveSuggested() {
	c := m.current()
	if c == nil {
		return
	}
	level := c.ModelLabel
	if c.SuggestedLabel != nil {
		level = *c.SuggestedLabel
	}
	m.label(level)
}

func (m *reviewModel) reject() {
	c := m.current()
	if c == nil {
		return
	}
	if _, err := m.store.Reject(c.ID); err != nil {
		m.lastErr = err
		return
	}
	m.lastErr = nil
	m.status = fmt.Sprintf("rejected %q", truncateCmd(c.Command, 40))
	m.remove(m.cursor)
}

func (m *reviewModel) remove(i int) {
	m.cases = append(m.cases[:i], m.cases[i+1:]...)
	if m.cursor >= len(m.cases) && m.cursor > 0 {
		m.cursor--
	}
}

func (m *reviewModel) reload() {
	cases, err := m.store.ListPending()
	if err != nil {
		m.lastErr = err
		return
	}
	m.lastErr = nil
	m.cases = cases
	if m.cursor >= len(m.cases) {
		m.cursor = max(0, len(m.cases)-1)
	}
	m.status = fmt.Sprintf("reloaded, %d pending", len(cases))
}

// View implements tea.Model.
func (m *reviewModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Pending review cases"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (%d)", len(m.cases))))
	b.WriteString("\n\n")

	if len(m.cases) == 0 {
		b.WriteString(dimStyle.Render("queue is empty\n"))
	}

	for i, c := range m.cases {
		line := fmt.Sprintf("%-9s conf=%.2f cov=%.2f  %s",
			c.ModelLabel, c.ModelConfidence, c.ModelCoverage, truncateCmd(c.Command, 60))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			style, ok := levelStyles[c.ModelLabel]
			if !ok {
				style = dimStyle
			}
			b.WriteString("  " + style.Render(line))
		}
		b.WriteString("\n")
	}

	if c := m.current(); c != nil {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("command: "))
		b.WriteString(c.Command)
		b.WriteString("\n")
		if c.SuggestedLabel != nil {
			b.WriteString(dimStyle.Render("arbiter suggested: "))
			b.WriteString(c.SuggestedLabel.String())
			b.WriteString("\n")
		}
	}

	if m.lastErr != nil {
		b.WriteString("\n" + errorStyle.Render(m.lastErr.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("[s]afe [m]oderate [h]igh [c]ritical  [a]ccept suggestion  [x] reject  [r]eload  [q]uit"))
	b.WriteString("\n")
	return b.String()
}

func truncateCmd(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// RunReview starts the interactive case browser.
func RunReview(store *audit.Store) error {
	model, err := newReviewModel(store)
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
