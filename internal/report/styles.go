package report

import (
	"github.com/charmbracelet/lipgloss"
)

// styles holds the palette, bound to the renderer of the output writer so
// non-terminal writers get plain text.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style

	// Task status
	pending    lipgloss.Style
	inProgress lipgloss.Style
	completed  lipgloss.Style

	// Conflict severity
	high   lipgloss.Style
	medium lipgloss.Style
	low    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title: r.NewStyle().
			Bold(true),

		label: r.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),

		muted: r.NewStyle().
			Foreground(lipgloss.Color("241")),

		ok: r.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true),

		warning: r.NewStyle().
			Foreground(lipgloss.Color("11")),

		failure: r.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),

		pending: r.NewStyle().
			Foreground(lipgloss.Color("240")),

		inProgress: r.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),

		completed: r.NewStyle().
			Foreground(lipgloss.Color("10")),

		high: r.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),

		medium: r.NewStyle().
			Foreground(lipgloss.Color("11")),

		low: r.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}
