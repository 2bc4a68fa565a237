package cluster

import (
	"context"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/metrics"
	"github.com/topicmesh/seo-engine/internal/pages"
)

const defaultMaxAnchors = 5

// Injector mutates page content to add missing internal links. It parses the
// page as a document rather than splicing raw strings, so titles spanning
// tag boundaries or appearing inside attributes never corrupt markup.
type Injector struct {
	linking    *LinkingEngine
	scoring    *ScoringEngine
	pages      pages.Store
	logger     *zap.Logger
	maxAnchors int
}

// NewInjector wires up a link injector. maxAnchors caps the total anchor
// tags a page may already contain before it is skipped as link-dense.
func NewInjector(linking *LinkingEngine, scoring *ScoringEngine, pageStore pages.Store, maxAnchors int, logger *zap.Logger) (*Injector, error) {
	if linking == nil || scoring == nil || pageStore == nil {
		return nil, fmt.Errorf("linking engine, scoring engine, and pages are required")
	}
	if maxAnchors <= 0 {
		maxAnchors = defaultMaxAnchors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{linking: linking, scoring: scoring, pages: pageStore, maxAnchors: maxAnchors, logger: logger}, nil
}

// InjectMissingLinks analyzes a cluster and writes its missing links into
// the eligible source pages, one write per page. Returns the number of pages
// updated. Running it again without content changes is a no-op: injected
// links satisfy the existence check on the next analysis.
func (i *Injector) InjectMissingLinks(ctx context.Context, clusterID int64) (int, error) {
	analysis, err := i.linking.Analyze(ctx, clusterID)
	if err != nil {
		return 0, err
	}
	if analysis.Err != "" || len(analysis.Missing) == 0 {
		return 0, nil
	}

	bySource := make(map[int64][]MissingLink)
	var sources []int64
	for _, link := range analysis.Missing {
		if _, ok := bySource[link.SourceID]; !ok {
			sources = append(sources, link.SourceID)
		}
		bySource[link.SourceID] = append(bySource[link.SourceID], link)
	}

	updated := 0
	for _, sourceID := range sources {
		if i.injectIntoPage(ctx, sourceID, bySource[sourceID]) {
			updated++
		}
	}

	if updated > 0 {
		i.scoring.Invalidate(ctx, clusterID)
	}
	return updated, nil
}

// injectIntoPage writes every candidate link into the source page, each
// unique target once, persisting the document in a single write. Unpublished
// and link-dense pages are skipped.
func (i *Injector) injectIntoPage(ctx context.Context, sourceID int64, links []MissingLink) bool {
	page, err := i.pages.Get(ctx, sourceID)
	if err != nil {
		i.logger.Warn("link injection source missing", zap.Int64("page_id", sourceID), zap.Error(err))
		return false
	}
	if page.Status != pages.StatusPublished {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		i.logger.Warn("parse page content failed", zap.Int64("page_id", sourceID), zap.Error(err))
		return false
	}
	if doc.Find("a").Length() >= i.maxAnchors {
		i.logger.Info("page already link dense, skipping", zap.Int64("page_id", sourceID))
		return false
	}

	injected := 0
	seen := make(map[int64]bool)
	for _, link := range links {
		if seen[link.TargetID] || linkPresent(page.Content, link.TargetURL) {
			continue
		}
		if !injectLink(doc, link) {
			continue
		}
		seen[link.TargetID] = true
		injected++
		i.logger.Info("internal link injected",
			zap.Int64("source_page_id", sourceID),
			zap.Int64("target_page_id", link.TargetID),
			zap.String("type", link.Type),
		)
	}
	if injected == 0 {
		return false
	}

	body, err := doc.Find("body").Html()
	if err != nil {
		i.logger.Warn("serialize page content failed", zap.Int64("page_id", sourceID), zap.Error(err))
		return false
	}
	if err := i.pages.UpdateContent(ctx, sourceID, body); err != nil {
		i.logger.Warn("persist injected link failed", zap.Int64("page_id", sourceID), zap.Error(err))
		return false
	}
	for n := 0; n < injected; n++ {
		metrics.ObserveLinkInjected()
	}
	return true
}

// injectLink wraps the target's title in an anchor inside an early paragraph
// when the title appears there as plain text, and otherwise appends a new
// paragraph carrying the link.
func injectLink(doc *goquery.Document, link MissingLink) bool {
	title := strings.TrimSpace(link.TargetTitle)
	if title == "" || link.TargetURL == "" {
		return false
	}

	if wrapTitleInAnchor(doc, title, link.TargetURL) {
		return true
	}

	doc.Find("body").AppendHtml(fmt.Sprintf(
		"\n<p>Related: <a href=%q>%s</a></p>", link.TargetURL, html.EscapeString(title)))
	return true
}

// wrapTitleInAnchor looks for the title as plain text inside the first 60%
// of the document's paragraphs and wraps the first occurrence in an anchor.
// Paragraphs that already contain markup are left alone.
func wrapTitleInAnchor(doc *goquery.Document, title, url string) bool {
	paragraphs := doc.Find("p")
	limit := int(math.Ceil(float64(paragraphs.Length()) * 0.6))

	wrapped := false
	paragraphs.EachWithBreak(func(idx int, p *goquery.Selection) bool {
		if idx >= limit {
			return false
		}
		if p.Children().Length() > 0 {
			return true
		}
		text, err := p.Html()
		if err != nil {
			return true
		}
		pos := strings.Index(strings.ToLower(text), strings.ToLower(title))
		if pos < 0 {
			return true
		}

		anchor := fmt.Sprintf("<a href=%q>%s</a>", url, text[pos:pos+len(title)])
		p.SetHtml(text[:pos] + anchor + text[pos+len(title):])
		wrapped = true
		return false
	})
	return wrapped
}
