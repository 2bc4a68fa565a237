package content

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	tagRe     = regexp.MustCompile(`<[^>]*>`)
	slugishRe = regexp.MustCompile(`(?i)^[a-z0-9\-_\s]+$`)

	junkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(1080p|720p|4k|uhd|hd)\b`),
		regexp.MustCompile(`(?i)\b(full\s*hd|ultra\s*hd)\b`),
		regexp.MustCompile(`(?i)\b(mp4|mkv|avi|wmv|mov)\b`),
		regexp.MustCompile(`(?i)\b(download|watch\s*now|stream)\b`),
		regexp.MustCompile(`(?i)\b(official)\b`),
		regexp.MustCompile(`(?i)\b(free\s*download)\b`),
		regexp.MustCompile(`(?i)\b(top-?models\.?webcam)\b`),
		regexp.MustCompile(`(?i)\b(top\s*models\s*webcam)\b`),
		regexp.MustCompile(`(?i)\b(adult\s*video)\b`),
		regexp.MustCompile(`\s*\([^)]*\)\s*`),
		regexp.MustCompile(`\s*\[[^\]]*\]\s*`),
	}

	separatorRe  = regexp.MustCompile(`\s*[|\x{2013}\x{2014}-]+\s*`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// FixTitle deterministically cleans a scraped or slug-like title before it is
// handed to the AI provider: junk tokens go, separators are normalized, and
// shouty all-caps titles are title-cased. A title cleaned down to nothing is
// returned unchanged.
func FixTitle(title string) string {
	t := html.UnescapeString(title)
	t = tagRe.ReplaceAllString(t, "")

	if slugishRe.MatchString(t) && strings.Count(t, "-") >= 3 {
		t = strings.NewReplacer("-", " ", "_", " ").Replace(t)
	}

	for _, p := range junkPatterns {
		t = p.ReplaceAllString(t, " ")
	}

	t = separatorRe.ReplaceAllString(t, " — ")
	t = multiSpaceRe.ReplaceAllString(t, " ")
	t = strings.Trim(t, " \t\n\r\x00\x0b—-|")
	if t == "" {
		return title
	}

	if strings.ToUpper(t) == t {
		t = titleCase(t)
	}
	return t
}

// ShortenTitle truncates to max runes with an ellipsis.
func ShortenTitle(title string, max int) string {
	t := strings.TrimSpace(title)
	if utf8.RuneCountInString(t) <= max {
		return t
	}
	runes := []rune(t)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
