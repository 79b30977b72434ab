// Package theme holds the Catppuccin Mocha colors the room view and palette draw with.
package theme

import "github.com/charmbracelet/lipgloss"

// Colors.
var (
	Mantle   = lipgloss.Color("#181825")
	Surface1 = lipgloss.Color("#45475a")
	Text     = lipgloss.Color("#cdd6f4")
	Subtext0 = lipgloss.Color("#a6adc8")
	Green    = lipgloss.Color("#a6e3a1")
	Peach    = lipgloss.Color("#fab387")
)

// Text styles. Hot marks a watch that ended with an error.
var (
	Title = lipgloss.NewStyle().Foreground(lipgloss.Color("#74c7ec")).Bold(true)
	Muted = lipgloss.NewStyle().Foreground(Subtext0)
	Hot   = lipgloss.NewStyle().Foreground(Peach).Bold(true)
)
