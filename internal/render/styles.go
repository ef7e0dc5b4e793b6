package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette shared by the plain terminal output and the TUI.
var (
	Green  = lipgloss.Color("10")
	Red    = lipgloss.Color("9")
	Yellow = lipgloss.Color("11")
	Grey   = lipgloss.Color("8")
	Blue   = lipgloss.Color("4")
	White  = lipgloss.Color("15")
)

const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	CancelIcon  = "○"
)

// Styles are text styles bound to one output.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Notice  lipgloss.Style
}

// NewStyles creates styles for w. Color is dropped when w is not a terminal
// unless opts force a profile.
func NewStyles(w io.Writer, opts ...termenv.OutputOption) *Styles {
	r := lipgloss.NewRenderer(w, opts...)

	return &Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(White),
		Section: r.NewStyle().
			Bold(true).
			Foreground(Blue),
		Success: r.NewStyle().
			Foreground(Green),
		Error: r.NewStyle().
			Foreground(Red),
		Warning: r.NewStyle().
			Foreground(Yellow),
		Muted: r.NewStyle().
			Foreground(Grey),
		Notice: r.NewStyle().
			Bold(true).
			Foreground(Red),
	}
}

// LogStyle picks the style for a log line from its level tag.
func (s *Styles) LogStyle(line string) lipgloss.Style {
	switch LogLevel(line) {
	case "ERROR":
		return s.Error
	case "SUCCESS":
		return s.Success
	case "WARNING", "WARN":
		return s.Warning
	case "DEBUG":
		return s.Muted
	default:
		return lipgloss.NewStyle()
	}
}

// LogLevel returns the bracketed tag a backend log line starts with, such as
// "INFO" for "[INFO] ...". It is empty when the line has no tag.
func LogLevel(line string) string {
	if len(line) < 2 || line[0] != '[' {
		return ""
	}
	for i := 1; i < len(line); i++ {
		switch line[i] {
		case ']':
			return line[1:i]
		case ' ', '\n':
			return ""
		}
	}
	return ""
}
