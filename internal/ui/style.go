package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle   = lipgloss.NewStyle().Bold(true)
)

// Styler renders status labels and section headers. Styling is applied only
// when the output is a terminal with color support and NO_COLOR is unset;
// otherwise every method returns its input unchanged.
type Styler struct {
	enabled bool
}

func NewStyler(out io.Writer) *Styler {
	if os.Getenv("NO_COLOR") != "" {
		return &Styler{}
	}

	file, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return &Styler{}
	}

	if termenv.EnvColorProfile() == termenv.Ascii {
		return &Styler{}
	}

	return &Styler{enabled: true}
}

func (styler *Styler) Ok(text string) string {
	return styler.render(okStyle, text)
}

func (styler *Styler) Degraded(text string) string {
	return styler.render(degradedStyle, text)
}

func (styler *Styler) Failed(text string) string {
	return styler.render(failedStyle, text)
}

func (styler *Styler) Header(text string) string {
	return styler.render(headerStyle, text)
}

func (styler *Styler) render(style lipgloss.Style, text string) string {
	if !styler.enabled {
		return text
	}

	return style.Render(text)
}
