package console

import (
	"github.com/charmbracelet/glamour"

	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// NewRenderer returns a markdown renderer for prompts and node output.
// A width of zero keeps glamour's default word wrap.
func NewRenderer(width int) (runner.ContentRenderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return r.Render, nil
}

// NewPlainRenderer renders markdown without colors, for logs and pipes.
func NewPlainRenderer() (runner.ContentRenderer, error) {
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("notty"))
	if err != nil {
		return nil, err
	}
	return r.Render, nil
}
