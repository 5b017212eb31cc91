// Package render styles terminal output: markdown responses, the prompt,
// and the startup banner.
package render

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorPrompt = "#7C3AED" // violet - prompt and user text
	colorModel  = "#A5B4FC" // light indigo - model name
	colorMuted  = "#6B7280" // gray - hints
	colorError  = "#EF4444" // red
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPrompt)).Bold(true)
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorModel))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true)
)

// Markdown wraps a glamour renderer. A nil Markdown renders verbatim.
type Markdown struct {
	r *glamour.TermRenderer
}

// NewMarkdown creates a markdown renderer wrapped to width. Rendering
// failures fall back to the raw text, never an error to the caller.
func NewMarkdown(width int) *Markdown {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Markdown{}
	}
	return &Markdown{r: r}
}

// Render formats markdown for the terminal, returning the input unchanged
// when no renderer is available.
func (m *Markdown) Render(text string) string {
	if m == nil || m.r == nil {
		return text
	}
	out, err := m.r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// Prompt returns the styled input prompt for the given model.
func Prompt(model string) string {
	return modelStyle.Render(model) + promptStyle.Render(" > ")
}

// Error returns a styled single-line error message.
func Error(msg string) string {
	return errorStyle.Render("error: ") + msg
}

// Banner returns the startup banner shown when entering interactive mode.
func Banner(version, model string) string {
	head := promptStyle.Render("parley") + " " + mutedStyle.Render(version)
	return fmt.Sprintf("%s\nmodel: %s\ntype /help for commands, /quit to exit\n",
		head, modelStyle.Render(model))
}
