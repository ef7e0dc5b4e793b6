package mangaba

import (
	"github.com/mangaba-ai/mangaba-go/internal/markup"
)

// MarkupPolicy decides what happens to the HTML fragments the backend sends
// as results.
type MarkupPolicy string

const (
	// MarkupTrusted passes fragments through untouched.
	MarkupTrusted MarkupPolicy = "trusted"
	// MarkupSanitized strips scripts, event handlers and script URLs first.
	MarkupSanitized MarkupPolicy = "sanitized"
)

func (p MarkupPolicy) apply(fragment string) string {
	if p == MarkupSanitized {
		return markup.Sanitize(fragment)
	}
	return fragment
}

// PlainText renders an HTML result fragment as terminal-friendly text.
func PlainText(fragment string) string {
	return markup.Text(fragment)
}
