package cmd

import "github.com/charmbracelet/lipgloss"

// PodNet palette, shared by every verb's output.
var (
	colorAccent = lipgloss.Color("#A8D8EA")
	colorMuted  = lipgloss.Color("#6c757d")
	colorAlert  = lipgloss.Color("#FF6B6B")
	colorGood   = lipgloss.Color("#4ECDC4")
	colorWarn   = lipgloss.Color("#FFE66D")
)

var (
	styleTitle   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleGood    = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleBad     = lipgloss.NewStyle().Foreground(colorAlert).Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleKey     = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	styleCommand = lipgloss.NewStyle().Foreground(colorAccent).PaddingLeft(2)
	styleDiff    = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorMuted).
			PaddingLeft(1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "active":
		return styleGood
	case "inactive":
		return styleWarn
	default:
		return styleMuted
	}
}
