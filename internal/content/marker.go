// Package content generates and maintains AI-written page content.
package content

import "strings"

// Marker delimits the engine-managed block inside a page body. Everything
// after it belongs to the engine; anything before it is left untouched.
const Marker = "<!-- seo-engine:ai -->"

// UpsertBlock replaces the managed block in a page body, or appends one when
// no marker exists yet. Empty generated HTML leaves the body unchanged.
func UpsertBlock(body, html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return body
	}
	if idx := strings.Index(body, Marker); idx >= 0 {
		before := strings.TrimRight(body[:idx], " \t\n")
		return before + "\n" + Marker + "\n" + html + "\n"
	}
	body = strings.TrimRight(body, " \t\n")
	if body != "" {
		body += "\n\n"
	}
	return body + Marker + "\n" + html + "\n"
}
