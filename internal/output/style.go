package output

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color modes accepted by DetectStyled.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// DetectStyled decides once, at startup, whether w gets colored output.
// "auto" colors only terminals and honors NO_COLOR.
func DetectStyled(w io.Writer, mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	out := termenv.NewOutput(f)
	if out.EnvNoColor() {
		return false
	}
	return out.ColorProfile() != termenv.Ascii
}

type styles struct {
	pass    lipgloss.Style
	fail    lipgloss.Style
	notice  lipgloss.Style
	heading lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(w io.Writer, styled bool) styles {
	r := lipgloss.NewRenderer(w)
	if styled {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		pass:    r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		notice:  r.NewStyle().Foreground(lipgloss.Color("3")),
		heading: r.NewStyle().Bold(true),
		dim:     r.NewStyle().Faint(true),
	}
}
