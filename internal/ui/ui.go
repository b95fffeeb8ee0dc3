// Package ui renders CLI output. Styling is applied only when the output is
// a terminal that supports color; pipes and files get plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWidth = 80

// Printer writes styled lines to one writer.
type Printer struct {
	w      io.Writer
	styled bool
	width  int

	title   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
	key     lipgloss.Style
}

// NewPrinter returns a Printer for w. Color is used when w is a terminal,
// NO_COLOR is unset and the terminal reports a color profile.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	width := defaultWidth
	if f, ok := w.(*os.File); ok && IsTerminal(f) {
		styled = termenv.EnvColorProfile() != termenv.Ascii
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}
	return newPrinter(w, styled, width)
}

// NewPlainPrinter returns a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return newPrinter(w, false, defaultWidth)
}

func newPrinter(w io.Writer, styled bool, width int) *Printer {
	r := lipgloss.NewRenderer(w)
	if !styled {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		w:       w,
		styled:  styled,
		width:   width,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		err:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		key:     r.NewStyle().Bold(true),
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Styled reports whether output is colored.
func (p *Printer) Styled() bool { return p.styled }

// Width returns the terminal width, or 80 when unknown.
func (p *Printer) Width() int { return p.width }

func (p *Printer) line(style lipgloss.Style, format string, args ...any) {
	fmt.Fprintln(p.w, style.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Title(format string, args ...any)   { p.line(p.title, format, args...) }
func (p *Printer) Success(format string, args ...any) { p.line(p.success, "✓ "+format, args...) }
func (p *Printer) Warn(format string, args ...any)    { p.line(p.warn, "! "+format, args...) }
func (p *Printer) Error(format string, args ...any)   { p.line(p.err, "✗ "+format, args...) }
func (p *Printer) Muted(format string, args ...any)   { p.line(p.muted, format, args...) }

// Plain writes an unstyled line.
func (p *Printer) Plain(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// KV prints key/value pairs with aligned values, sorted by key.
func (p *Printer) KV(pairs map[string]string) {
	keys := make([]string, 0, len(pairs))
	width := 0
	for k := range pairs {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		label := p.key.Render(k + ":")
		fmt.Fprintf(p.w, "  %s%s %s\n", label, strings.Repeat(" ", width-len(k)), pairs[k])
	}
}

// Table prints rows under headers with padded columns. Cells wider than the
// terminal are not wrapped.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	render := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				padded = style.Render(padded)
			}
			parts[i] = padded
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	render(headers, &p.key)
	for _, row := range rows {
		render(row, nil)
	}
}
