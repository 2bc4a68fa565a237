// Package keywords implements keyword discovery, relevance filtering,
// difficulty scoring, and topic clustering.
package keywords

import (
	"regexp"
	"strings"
)

// Intent labels inferred from keyword phrasing.
const (
	IntentCommercial    = "commercial"
	IntentInformational = "informational"
	IntentFree          = "free"
	IntentLocal         = "local"
	IntentMixed         = "mixed"
)

// anchorTerms keep discovered keywords on-topic for the adult webcam and
// live video chat niche. A keyword must contain at least one.
var anchorTerms = []string{
	"webcam",
	"web cam",
	"cam",
	"cams",
	"camgirl",
	"cam girl",
	"cam girls",
	"cam model",
	"cam models",
	"live cam",
	"live cams",
	"adult cam",
	"adult webcam",
	"webcam chat",
	"cam chat",
	"live chat",
	"live video chat",
	"adult chat",
	"adult video chat",
	"sex cam",
	"sex cams",
	"strip chat",
	"stripchat",
	"chaturbate",
	"myfreecams",
	"livejasmin",
	"camsoda",
	"bonga",
	"cam4",
	"18+ chat",
	"nsfw chat",
}

// blocklistFragments reject junk, off-niche, and risky keywords.
var blocklistFragments = []string{
	"torrent", "crack", "apk", "mod apk", "warez",
	"reddit", "tiktok", "instagram", "onlyfans leak", "leak",
	"download", "mp4", "mkv",
	"kids", "teenager", "child", "minor", "underage",
	"job", "salary", "vacancy", "course", "tutorial",
	"free porn", "pornhub", "xvideos", "xnxx",
	"disease", "symptoms", "medicine",
	"how to hack", "hack",
	"vpn", "proxy",
}

// minorsTerms hard-block anything suggesting minors, checked before the
// general blocklist so the reason is always minors_block.
var minorsTerms = []string{"underage", "child", "minor", "teenager", "kids"}

var (
	nonAlnum   = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespace = regexp.MustCompile(`\s+`)

	commercialRe    = regexp.MustCompile(`\b(best|top|reviews|review|ranking)\b`)
	freeRe          = regexp.MustCompile(`\b(free|no\s*signup|without\s*registration)\b`)
	localRe         = regexp.MustCompile(`\b(near\s*me|local)\b`)
	informationalRe = regexp.MustCompile(`\b(how|what|guide|tips|meaning)\b`)
)

// Normalize lowercases a keyword and strips everything outside letters,
// digits, and spaces.
func Normalize(keyword string) string {
	k := strings.ToLower(keyword)
	k = nonAlnum.ReplaceAllString(k, " ")
	k = whitespace.ReplaceAllString(k, " ")
	return strings.TrimSpace(k)
}

// IsRelevant reports whether a keyword belongs in the niche. The reason is
// empty when relevant; otherwise it names the first rule that rejected it
// (minors_block, blacklist:<fragment>, no_anchor_term, empty).
func IsRelevant(keyword string) (bool, string) {
	k := Normalize(keyword)
	if k == "" {
		return false, "empty"
	}
	for _, m := range minorsTerms {
		if strings.Contains(k, m) {
			return false, "minors_block"
		}
	}
	for _, frag := range blocklistFragments {
		if strings.Contains(k, frag) {
			return false, "blacklist:" + frag
		}
	}
	for _, anchor := range anchorTerms {
		if strings.Contains(k, anchor) {
			return true, ""
		}
	}
	return false, "no_anchor_term"
}

// InferIntent classifies a keyword by its phrasing.
func InferIntent(keyword string) string {
	k := Normalize(keyword)
	switch {
	case commercialRe.MatchString(k):
		return IntentCommercial
	case freeRe.MatchString(k):
		return IntentFree
	case localRe.MatchString(k):
		return IntentLocal
	case informationalRe.MatchString(k):
		return IntentInformational
	default:
		return IntentMixed
	}
}

// clusterModifiers are stripped from keywords so closely related variants
// share a cluster key. Order matters: longer phrases go before their parts.
var clusterModifiers = []string{
	"best", "top", "free", "online", "live", "new", "latest", "hd", "4k", "real",
	"near me", "near", "me", "without registration", "no signup", "no sign up",
	"girls", "girl", "models", "model",
}

// ClusterKey removes generic modifiers from a normalized keyword. A keyword
// reduced to nothing falls back to its normalized form.
func ClusterKey(keyword string) string {
	k := Normalize(keyword)
	for _, mod := range clusterModifiers {
		k = strings.ReplaceAll(k, mod, " ")
	}
	k = whitespace.ReplaceAllString(k, " ")
	k = strings.TrimSpace(k)
	if k == "" {
		return Normalize(keyword)
	}
	return k
}
