// Package tui renders the interview in a terminal: a styled problem list
// and a Bubble Tea text chat.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

var (
	Ink      = lipgloss.Color("#e6e6e6")
	Dim      = lipgloss.Color("#8a8f98")
	Accent   = lipgloss.Color("#7aa2f7")
	Easy     = lipgloss.Color("#9ece6a")
	Medium   = lipgloss.Color("#e0af68")
	Hard     = lipgloss.Color("#f7768e")
	Border   = lipgloss.Color("#3b4261")
	Assist   = lipgloss.Color("#bb9af7")
	UserTone = lipgloss.Color("#7dcfff")

	Title = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	Muted = lipgloss.NewStyle().Foreground(Dim)
	Body  = lipgloss.NewStyle().Foreground(Ink)
	Error = lipgloss.NewStyle().Foreground(Hard).Bold(true)

	Card = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)

	Tag = lipgloss.NewStyle().Foreground(Dim).Italic(true)

	UserLabel      = lipgloss.NewStyle().Foreground(UserTone).Bold(true)
	AssistantLabel = lipgloss.NewStyle().Foreground(Assist).Bold(true)
)

// DifficultyStyle colours a difficulty badge.
func DifficultyStyle(d domain.Difficulty) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch d {
	case domain.DifficultyEasy:
		return s.Foreground(Easy)
	case domain.DifficultyHard:
		return s.Foreground(Hard)
	default:
		return s.Foreground(Medium)
	}
}
