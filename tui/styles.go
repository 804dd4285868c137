// Package tui contains the terminal views of the anonvpn command: an
// interactive server picker and the connection status panel.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.AdaptiveColor{Light: "#1B5E20", Dark: "#66BB6A"}
	muted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}
	danger = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(accent).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(16)

	valueStyle = lipgloss.NewStyle().Bold(true)

	okStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(muted)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)
