// Package console renders run events for a terminal: markdown through
// glamour, colors through termenv.
package console

import (
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewStyler colors lines by the kind of event they describe. The color
// profile is detected from w; pipes get plain text.
func NewStyler(w io.Writer, opts ...termenv.OutputOption) runner.Styler {
	out := termenv.NewOutput(w, opts...)
	var (
		ok     = out.Color("#22c55e")
		bad    = out.Color("#ef4444")
		warn   = out.Color("#eab308")
		accent = out.Color("#a78bfa")
	)

	return func(name domain.EventName, line string) string {
		s := out.String(line)
		switch {
		case name == domain.EventRunComplete:
			if strings.HasPrefix(line, "run "+string(domain.StatusComplete)) {
				return s.Foreground(ok).Bold().String()
			}
			return s.Foreground(bad).Bold().String()
		case name == domain.EventTaskFailed:
			return s.Foreground(bad).String()
		case name == domain.EventSessionPrompt:
			return s.Foreground(warn).Bold().String()
		case name == domain.EventSessionAbort:
			return s.Foreground(bad).String()
		case name == domain.EventAgentMessage:
			return s.Foreground(accent).String()
		case domain.MatchName("phase:*", name), name == domain.EventTaskSkipped, name == "":
			return s.Faint().String()
		default:
			return line
		}
	}
}

// HandlerOptions returns the text handler options for w: a markdown
// renderer and colors on a terminal, plain output otherwise.
func HandlerOptions(w io.Writer) []runner.TextHandlerOption {
	if !IsTerminal(w) {
		return nil
	}
	var opts []runner.TextHandlerOption
	width := 0
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = cols
		}
	}
	if r, err := NewRenderer(width); err == nil {
		opts = append(opts, runner.WithTextHandlerRenderer(r))
	}
	return append(opts, runner.WithStyler(NewStyler(w)))
}
