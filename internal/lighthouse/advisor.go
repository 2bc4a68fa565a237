package lighthouse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
)

// Issue is one failing audit aggregated across targets. Frequency counts the
// targets whose latest run failed the audit.
type Issue struct {
	AuditID     string `json:"audit_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Frequency   int    `json:"frequency"`
}

// RawResults provides the latest raw payload per target for one strategy.
type RawResults interface {
	LatestRawResults(ctx context.Context, strategy string) ([]string, error)
}

// SystemicIssues aggregates failing audits across the latest run of every
// target for one strategy. Audits with a nil score are informational and
// skipped; a score below 1.0 counts as failing. Results are ordered by
// frequency, most widespread first.
func SystemicIssues(ctx context.Context, repo RawResults, strategy string) ([]Issue, error) {
	payloads, err := repo.LatestRawResults(ctx, NormalizeStrategy(strategy))
	if err != nil {
		return nil, fmt.Errorf("systemic issues: %w", err)
	}

	byAudit := map[string]*Issue{}
	for _, payload := range payloads {
		var result pagespeed.LighthouseResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			continue
		}
		for auditID, audit := range result.Audits {
			if audit.Score == nil || *audit.Score >= 1.0 {
				continue
			}
			issue, ok := byAudit[auditID]
			if !ok {
				title := audit.Title
				if title == "" {
					title = auditID
				}
				issue = &Issue{AuditID: auditID, Title: title, Description: audit.Description}
				byAudit[auditID] = issue
			}
			issue.Frequency++
		}
	}

	issues := make([]Issue, 0, len(byAudit))
	for _, issue := range byAudit {
		issues = append(issues, *issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Frequency != issues[j].Frequency {
			return issues[i].Frequency > issues[j].Frequency
		}
		return issues[i].AuditID < issues[j].AuditID
	})
	return issues, nil
}
