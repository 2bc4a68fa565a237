package lighthouse

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
)

// RunHealthCycle executes one pagespeed_cycle job: it audits the most recently
// published pages on mobile and stores a 0-100 health score in page meta. The
// score feeds the daily publish scan, which re-optimizes weak pages. Individual
// page failures are logged and skipped so one flaky URL cannot stall the cycle.
func (e *Engine) RunHealthCycle(ctx context.Context, job jobs.Job) error {
	published, err := e.pages.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("pagespeed cycle: list published pages: %w", err)
	}
	sort.Slice(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})
	if len(published) > e.targetLimit {
		published = published[:e.targetLimit]
	}

	updated := 0
	for _, page := range published {
		if page.Slug == "" {
			continue
		}
		url := pages.Permalink(e.baseURL, page.Slug)
		result, err := e.auditor.Run(ctx, url, StrategyMobile)
		if err != nil {
			e.logger.Warn("health audit failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		health, ok := healthScore(pagespeed.Normalize(result))
		if !ok {
			e.logger.Warn("health audit returned no scores", zap.Int64("page_id", page.ID))
			continue
		}
		if err := e.pages.SetMeta(ctx, page.ID, pages.MetaHealthScore, strconv.Itoa(health)); err != nil {
			e.logger.Warn("store health score failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		updated++
	}

	e.logger.Info("pagespeed cycle complete",
		zap.String("trigger", job.Payload.String("trigger")),
		zap.Int("pages", len(published)),
		zap.Int("updated", updated),
	)
	e.audit(ctx, "info", "PageSpeed cycle complete", map[string]any{"pages": len(published), "updated": updated})
	return nil
}

// healthScore blends the normalized performance and SEO scores into a single
// 0-100 health value. Missing categories are left out of the average.
func healthScore(report pagespeed.Report) (int, bool) {
	sum, n := 0.0, 0
	if report.PerformanceScore != nil {
		sum += *report.PerformanceScore
		n++
	}
	if report.SEOScore != nil {
		sum += *report.SEOScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(sum / float64(n))), true
}
