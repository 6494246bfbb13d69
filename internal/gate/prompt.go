package gate

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/the-radar/deliberate/internal/risk"
	"github.com/the-radar/deliberate/internal/utils"
)

var (
	bannerCritical = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	bannerHigh = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("160")).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1)

	bannerModerate = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	elevatedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")).
			Background(lipgloss.Color("88"))
)

// renderWarning builds the risk-tiered banner. Command text is sanitized so
// embedded escape sequences cannot redraw or disguise the prompt, and all
// newlines become \r\n because the terminal is about to enter raw mode.
func renderWarning(req *Request) string {
	var b strings.Builder

	b.WriteString("\r\n")
	b.WriteString(banner(req.Risk))
	b.WriteString("\n\n")

	b.WriteString(commandStyle.Render(utils.SanitizeInput(req.Command)))
	b.WriteString("\n\n")

	if req.WorkingDir != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Directory:"), req.WorkingDir)
	}
	if req.User != "" {
		user := req.User
		if req.Elevated {
			user += " " + elevatedStyle.Render(" ELEVATED PRIVILEGES ")
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("User:"), user)
	}
	if req.Reason != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Why flagged:"), utils.SanitizeInput(req.Reason))
	}

	b.WriteString("\n")
	b.WriteString(promptLine(req.Risk))
	b.WriteString(" ")

	return utils.CarriageNewlines(b.String())
}

func banner(level risk.Level) string {
	switch {
	case level >= risk.Critical:
		return bannerCritical.Render("CRITICAL: this command is destructive and cannot be undone")
	case level >= risk.High:
		return bannerHigh.Render("DANGER: this command can cause irreversible damage")
	default:
		return bannerModerate.Render("CAUTION: this command changes state")
	}
}

func promptLine(level risk.Level) string {
	if level >= risk.Critical {
		return labelStyle.Render("Type \"yes\" to proceed, anything else to deny:") +
			dimStyle.Render(" (input is masked)")
	}
	return labelStyle.Render("Approve? [y/N]") + dimStyle.Render(" (input is masked)")
}
