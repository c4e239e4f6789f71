package report

import "github.com/charmbracelet/lipgloss"

// Styles defines the visual theme for terminal output.
// Lipgloss degrades to no-color when output is not a TTY.
type Styles struct {
	Header      lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	GroupCell   lipgloss.Style
	Peak        lipgloss.Style
	Border      lipgloss.Style
	Muted       lipgloss.Style
}

// DefaultStyles returns the default color scheme.
func DefaultStyles() Styles {
	return Styles{
		Header:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		TableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).PaddingRight(1),
		TableCell:   lipgloss.NewStyle().PaddingRight(1),
		GroupCell:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingRight(1),
		Peak:        lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true).PaddingRight(1),
		Border:      lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		Muted:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
