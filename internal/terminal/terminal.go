// Package terminal formats assistant output for display.
package terminal

import (
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "244", Dark: "245"}).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
)

// Formatter renders text for a terminal. An unstyled Formatter passes text through unchanged, which keeps piped
// output free of escape sequences
type Formatter struct {
	styled   bool
	renderer *glamour.TermRenderer
}

// New creates a Formatter. Markdown rendering falls back to plain text if the renderer cannot be created
func New(styled bool) *Formatter {
	f := &Formatter{styled: styled}
	if styled {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			f.renderer = renderer
		}
	}
	return f
}

// ForFile creates a Formatter that styles output only if file is a terminal
func ForFile(file *os.File) *Formatter {
	return New(IsTerminal(file))
}

func IsTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

func (f *Formatter) Muted(text string) string {
	if !f.styled {
		return text
	}
	return mutedStyle.Render(text)
}

func (f *Formatter) Error(text string) string {
	if !f.styled {
		return text
	}
	return errorStyle.Render(text)
}

func (f *Formatter) Notice(text string) string {
	if !f.styled {
		return text
	}
	return noticeStyle.Render(text)
}

// Markdown renders markdown for display. The original text is returned if rendering fails
func (f *Formatter) Markdown(text string) string {
	if f.renderer == nil {
		return text
	}
	rendered, err := f.renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}
