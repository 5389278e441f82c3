package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("39")  // Cyan
	ColorSecondary = lipgloss.Color("212") // Pink
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorMuted     = lipgloss.Color("245") // Gray
	ColorHighlight = lipgloss.Color("226") // Yellow
)

// Styles for various UI elements
var (
	Bold      = lipgloss.NewStyle().Bold(true)
	Dim       = lipgloss.NewStyle().Foreground(ColorMuted)
	Highlight = lipgloss.NewStyle().Foreground(ColorHighlight)
	Header    = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)

	// Chat transcript
	UserPrompt = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)
	AssistantLabel = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	// Search results
	ResultKind = lipgloss.NewStyle().
			Foreground(ColorPrimary)
	ResultScore = lipgloss.NewStyle().
			Foreground(ColorSuccess)
	ResultContent = lipgloss.NewStyle().
			PaddingLeft(4)

	SectionTitle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true).
			MarginTop(1)
	Divider = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// HorizontalRule returns a styled horizontal divider.
func HorizontalRule(width int) string {
	return Divider.Render(strings.Repeat("─", max(width, 0)))
}

// FormatScore formats a cosine similarity score.
func FormatScore(score float64) string {
	return ResultScore.Render(fmt.Sprintf("(%.4f)", score))
}

// FormatKind formats a document kind as a short label.
func FormatKind(kind string) string {
	return ResultKind.Render(strings.ReplaceAll(kind, "_", " "))
}

// FormatError renders an error line, distinct from answers.
func FormatError(err error) string {
	return Error.Render("Error: " + err.Error())
}
