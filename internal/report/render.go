package report

import (
	"github.com/charmbracelet/glamour"
)

// Terminal renders markdown for display in a terminal of the given width
func Terminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
