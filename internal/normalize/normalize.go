// Package normalize canonicalizes user-supplied strings before they are
// stored or compared.
package normalize

import (
	"html"
	"strings"
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Text trims surrounding whitespace from free text.
func Text(s string) string {
	return strings.TrimSpace(s)
}

// Content trims user-authored content and escapes HTML so it is safe to
// render back to other users.
func Content(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
