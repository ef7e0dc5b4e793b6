// Package tui is the interactive view of a run: a spinner while the stream
// is open, a scrolling log and the result panel.
package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/mangaba-ai/mangaba-go/internal/render"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(render.White)

	goalStyle = lipgloss.NewStyle().
			Foreground(render.Grey)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(render.Blue).
			Padding(0, 1)

	partialStyle = lipgloss.NewStyle().
			Foreground(render.Grey)

	noticeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(render.Red)

	helpStyle = lipgloss.NewStyle().
			Foreground(render.Grey)

	successStyle = lipgloss.NewStyle().Foreground(render.Green)
	errorStyle   = lipgloss.NewStyle().Foreground(render.Red)
	warningStyle = lipgloss.NewStyle().Foreground(render.Yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(render.Grey)
)

func logStyle(line string) lipgloss.Style {
	switch render.LogLevel(line) {
	case "ERROR":
		return errorStyle
	case "SUCCESS":
		return successStyle
	case "WARNING", "WARN":
		return warningStyle
	case "DEBUG":
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "sair"),
	),
}
