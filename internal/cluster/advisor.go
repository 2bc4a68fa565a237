package cluster

import (
	"context"
	"fmt"
)

// Issue severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Issue is one advisory finding about a cluster.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Advice bundles the warnings and opportunities for a cluster.
type Advice struct {
	ClusterID     int64   `json:"cluster_id"`
	Warnings      []Issue `json:"warnings"`
	Opportunities []Issue `json:"opportunities"`
	Priority      int     `json:"priority"`
}

// Advisor derives rule-based warnings and opportunities from the linking
// analysis, score, and latest metrics snapshot. It holds no state of its own.
type Advisor struct {
	repo    Repository
	linking *LinkingEngine
	scoring *ScoringEngine
}

// NewAdvisor wires up an advisor.
func NewAdvisor(repo Repository, linking *LinkingEngine, scoring *ScoringEngine) (*Advisor, error) {
	if repo == nil || linking == nil || scoring == nil {
		return nil, fmt.Errorf("repo, linking, and scoring engines are required")
	}
	return &Advisor{repo: repo, linking: linking, scoring: scoring}, nil
}

// Advise evaluates all advisory rules for one cluster.
func (a *Advisor) Advise(ctx context.Context, clusterID int64) (Advice, error) {
	analysis, err := a.linking.Analyze(ctx, clusterID)
	if err != nil {
		return Advice{}, err
	}
	score, err := a.scoring.Score(ctx, clusterID)
	if err != nil {
		return Advice{}, err
	}
	keywords, err := a.repo.Keywords(ctx, clusterID)
	if err != nil {
		return Advice{}, fmt.Errorf("load cluster keywords: %w", err)
	}
	metrics, err := a.repo.LatestMetrics(ctx, clusterID)
	if err != nil {
		return Advice{}, fmt.Errorf("load cluster metrics: %w", err)
	}

	advice := Advice{ClusterID: clusterID}
	completeness := analysis.Completeness()

	if analysis.Pillar == nil {
		advice.Warnings = append(advice.Warnings, Issue{
			Code:     "missing_pillar",
			Message:  "cluster has no pillar page",
			Severity: SeverityHigh,
		})
	}
	if len(analysis.Supports) < 2 {
		advice.Warnings = append(advice.Warnings, Issue{
			Code:     "few_supports",
			Message:  fmt.Sprintf("cluster has %d support pages, needs at least 2", len(analysis.Supports)),
			Severity: SeverityMedium,
		})
	}
	if len(analysis.Supports) > 0 && completeness < 0.7 {
		advice.Warnings = append(advice.Warnings, Issue{
			Code:     "incomplete_linking",
			Message:  fmt.Sprintf("internal linking is %.0f%% complete", completeness*100),
			Severity: SeverityMedium,
		})
	}
	if len(keywords) < 5 {
		advice.Warnings = append(advice.Warnings, Issue{
			Code:     "few_keywords",
			Message:  fmt.Sprintf("cluster tracks %d keywords, needs at least 5", len(keywords)),
			Severity: SeverityLow,
		})
	}
	if score.Score < 60 {
		advice.Warnings = append(advice.Warnings, Issue{
			Code:     "low_score",
			Message:  fmt.Sprintf("cluster score %d is below 60", score.Score),
			Severity: SeverityHigh,
		})
	}

	if metrics != nil {
		ctr := metrics.CTR()
		pos := metrics.AvgPosition

		if metrics.Impressions > 1000 && ctr < 2 {
			advice.Opportunities = append(advice.Opportunities, Issue{
				Code:     "ctr_opportunity",
				Message:  "high impressions with low click-through: improve titles and descriptions",
				Severity: SeverityHigh,
			})
		}
		if score.Structural > 70 && pos >= 11 && pos <= 20 {
			advice.Opportunities = append(advice.Opportunities, Issue{
				Code:     "page_one_push",
				Message:  "strong cluster ranking on page two: a push could reach page one",
				Severity: SeverityHigh,
			})
		}
		if score.Structural > 80 && metrics.Impressions < 300 {
			advice.Opportunities = append(advice.Opportunities, Issue{
				Code:     "low_demand",
				Message:  "well-built cluster with little search demand: revisit keyword targeting",
				Severity: SeverityMedium,
			})
		}
		if pos > 0 && pos < 15 && completeness < 0.7 {
			advice.Opportunities = append(advice.Opportunities, Issue{
				Code:     "reinforcement_opportunity",
				Message:  "ranking cluster with incomplete linking: inject missing internal links",
				Severity: SeverityHigh,
			})
		}
	}

	advice.Priority = priorityScore(metrics, completeness)
	return advice, nil
}

// priorityScore is an alternative ranking signal: how much upside closing
// the cluster's gaps would unlock. Position, CTR, and linking gaps are
// stepped independently and summed (max 100).
func priorityScore(m *Metrics, completeness float64) int {
	points := 0

	if m != nil {
		switch pos := m.AvgPosition; {
		case pos > 20:
			points += 40
		case pos > 10:
			points += 30
		case pos > 3:
			points += 15
		}
		switch ctr := m.CTR(); {
		case m.Impressions == 0:
		case ctr < 1:
			points += 30
		case ctr < 2:
			points += 20
		case ctr < 5:
			points += 10
		}
	}

	switch {
	case completeness < 0.3:
		points += 30
	case completeness < 0.6:
		points += 20
	case completeness < 0.9:
		points += 10
	}

	return points
}
