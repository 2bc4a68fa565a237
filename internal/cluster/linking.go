package cluster

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/pages"
)

// Missing-link directions.
const (
	LinkSupportToPillar = "support_to_pillar"
	LinkPillarToSupport = "pillar_to_support"
)

// ErrMissingPillar marks an analysis of a cluster with no pillar page.
const ErrMissingPillar = "missing_pillar"

// Repository is the persistence port the analysis engines read through.
// *Store implements it.
type Repository interface {
	Get(ctx context.Context, id int64) (Cluster, error)
	Pages(ctx context.Context, clusterID int64) ([]Membership, error)
	Keywords(ctx context.Context, clusterID int64) ([]Keyword, error)
	LatestMetrics(ctx context.Context, clusterID int64) (*Metrics, error)
}

/// PageRef is a resolved cluster page: id, display title, and permalink.
type PageRef struct {
	PageID int64  `json:"page_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// MissingLink is one internal link the cluster should have but does not.
type MissingLink struct {
	SourceID    int64  `json:"source_id"`
	TargetID    int64  `json:"target_id"`
	SourceTitle string `json:"source_title"`
	TargetTitle string `json:"target_title"`
	TargetURL   string `json:"target_url"`
	Type        string `json:"type"`
}

// Analysis is the outcome of analyzing one cluster's link structure.
type Analysis struct {
	Cluster  Cluster       `json:"cluster"`
	Pillar   *PageRef      `json:"pillar"`
	Supports []PageRef     `json:"supports"`
	Missing  []MissingLink `json:"missing_links"`
	Err      string        `json:"error,omitempty"`
}

// Completeness is the fraction of expected pillar/support links present.
// Each support expects two directed links, so a cluster with no missing
// links scores 1. A cluster without supports scores 0.
func (a Analysis) Completeness() float64 {
	expected := len(a.Supports) * 2
	if expected == 0 {
		return 0
	}
	c := 1 - float64(len(a.Missing))/float64(expected)
	if c < 0 {
		return 0
	}
	return c
}

// LinkingEngine derives pillar/support relationships and the set of missing
// internal links for a cluster.
type LinkingEngine struct {
	repo    Repository
	pages   pages.Store
	baseURL string
	logger  *zap.Logger
}

// NewLinkingEngine wires up a linking engine.
func NewLinkingEngine(repo Repository, pageStore pages.Store, baseURL string, logger *zap.Logger) (*LinkingEngine, error) {
	if repo == nil || pageStore == nil {
		return nil, fmt.Errorf("repo and pages are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkingEngine{repo: repo, pages: pageStore, baseURL: baseURL, logger: logger}, nil
}

// Analyze loads a cluster's pages, partitions them into pillar and supports,
// and proposes the directed links still missing. With multiple pillar rows
// the lowest page id wins; the rest are treated as supports.
func (e *LinkingEngine) Analyze(ctx context.Context, clusterID int64) (Analysis, error) {
	c, err := e.repo.Get(ctx, clusterID)
	if err != nil {
		return Analysis{}, fmt.Errorf("load cluster %d: %w", clusterID, err)
	}
	members, err := e.repo.Pages(ctx, clusterID)
	if err != nil {
		return Analysis{}, fmt.Errorf("load cluster pages: %w", err)
	}

	analysis := Analysis{Cluster: c}
	contents := make(map[int64]string)

	for _, m := range members {
		page, err := e.pages.Get(ctx, m.PageID)
		if err != nil {
			e.logger.Warn("cluster references missing page",
				zap.Int64("cluster_id", clusterID), zap.Int64("page_id", m.PageID), zap.Error(err))
			continue
		}
		ref := PageRef{PageID: page.ID, Title: page.Title, URL: pages.Permalink(e.baseURL, page.Slug)}
		contents[page.ID] = page.Content

		if m.Role == RolePillar && analysis.Pillar == nil {
			analysis.Pillar = &ref
			continue
		}
		analysis.Supports = append(analysis.Supports, ref)
	}

	if analysis.Pillar == nil {
		analysis.Err = ErrMissingPillar
		return analysis, nil
	}

	pillar := *analysis.Pillar
	for _, support := range analysis.Supports {
		if !linkPresent(contents[support.PageID], pillar.URL) {
			analysis.Missing = append(analysis.Missing, MissingLink{
				SourceID:    support.PageID,
				TargetID:    pillar.PageID,
				SourceTitle: support.Title,
				TargetTitle: pillar.Title,
				TargetURL:   pillar.URL,
				Type:        LinkSupportToPillar,
			})
		}
		if !linkPresent(contents[pillar.PageID], support.URL) {
			analysis.Missing = append(analysis.Missing, MissingLink{
				SourceID:    pillar.PageID,
				TargetID:    support.PageID,
				SourceTitle: pillar.Title,
				TargetTitle: support.Title,
				TargetURL:   support.URL,
				Type:        LinkPillarToSupport,
			})
		}
	}
	return analysis, nil
}

// linkPresent reports whether content already links to target, either by the
// absolute URL or by an href-quoted relative-path variant.
func linkPresent(content, target string) bool {
	if content == "" || target == "" {
		return false
	}
	if strings.Contains(content, target) {
		return true
	}
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return false
	}
	for _, variant := range []string{
		`href="` + u.Path + `"`,
		`href='` + u.Path + `'`,
	} {
		if strings.Contains(content, variant) {
			return true
		}
	}
	return false
}
