// Package lighthouse tracks audit targets derived from published pages and
// the per-strategy run history collected from the page-performance provider.
package lighthouse

import (
	"errors"
	"time"
)

// Strategies mirror the provider's. Anything else falls back to mobile.
const (
	StrategyMobile  = "mobile"
	StrategyDesktop = "desktop"
)

// ErrNotFound is returned when a target does not exist.
var ErrNotFound = errors.New("lighthouse: not found")

// Target is one URL under recurring audit. PageID links back to the page the
// URL was derived from.
type Target struct {
	ID                 int64      `json:"id"`
	URL                string     `json:"url"`
	PageID             *int64     `json:"page_id,omitempty"`
	Type               string     `json:"type"`
	LastScannedMobile  *time.Time `json:"last_scanned_mobile,omitempty"`
	LastScannedDesktop *time.Time `json:"last_scanned_desktop,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Run is one completed audit for a target and strategy. Scores are 0-100,
// timing audits keep the provider's units. RawJSON holds the full provider
// payload for later audit-level analysis.
type Run struct {
	ID                int64     `json:"id"`
	TargetID          int64     `json:"target_id"`
	Strategy          string    `json:"strategy"`
	LighthouseVersion string    `json:"lighthouse_version"`
	PerformanceScore  *float64  `json:"performance_score,omitempty"`
	SEOScore          *float64  `json:"seo_score,omitempty"`
	LCP               *float64  `json:"lcp,omitempty"`
	CLS               *float64  `json:"cls,omitempty"`
	INP               *float64  `json:"inp,omitempty"`
	RawJSON           string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// TargetStatus pairs a target with its most recent run for one strategy.
type TargetStatus struct {
	Target Target `json:"target"`
	Latest *Run   `json:"latest,omitempty"`
}

// NormalizeStrategy maps arbitrary input onto a supported strategy.
func NormalizeStrategy(s string) string {
	if s == StrategyDesktop {
		return StrategyDesktop
	}
	return StrategyMobile
}
