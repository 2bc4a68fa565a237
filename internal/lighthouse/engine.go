package lighthouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
)

const defaultTargetLimit = 100

// Repository is the persistence surface the engine needs. *Store implements it.
type Repository interface {
	EnsureTarget(ctx context.Context, url string, pageID int64, pageType string) error
	GetTarget(ctx context.Context, id int64) (Target, error)
	ListTargets(ctx context.Context, limit int) ([]Target, error)
	InsertRun(ctx context.Context, run Run) (int64, error)
	LatestRawResults(ctx context.Context, strategy string) ([]string, error)
}

// Auditor runs one audit against the page-performance provider.
// *pagespeed.Client implements it.
type Auditor interface {
	Run(ctx context.Context, pageURL, strategy string) (*pagespeed.LighthouseResult, error)
}

// Enqueuer schedules follow-up jobs. *jobs.Store implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error)
}

// Activity records durable audit entries. *logs.Store implements it.
type Activity interface {
	Add(ctx context.Context, level, logContext, message string, data map[string]any) error
}

// Engine keeps the audit target list in sync with published pages, executes
// lighthouse_scan_url jobs, and enqueues the weekly scan fan-out.
type Engine struct {
	repo        Repository
	pages       pages.Store
	auditor     Auditor
	queue       Enqueuer
	activity    Activity
	logger      *zap.Logger
	baseURL     string
	targetLimit int
}

// EngineParams collects Engine dependencies.
type EngineParams struct {
	Repo        Repository
	Pages       pages.Store
	Auditor     Auditor
	Queue       Enqueuer
	Activity    Activity
	Logger      *zap.Logger
	BaseURL     string
	TargetLimit int
}

// NewEngine wires up a lighthouse engine.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Repo == nil || p.Pages == nil || p.Auditor == nil || p.Queue == nil {
		return nil, fmt.Errorf("repo, pages, auditor, and queue are required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.TargetLimit <= 0 {
		p.TargetLimit = defaultTargetLimit
	}
	return &Engine{
		repo:        p.Repo,
		pages:       p.Pages,
		auditor:     p.Auditor,
		queue:       p.Queue,
		activity:    p.Activity,
		logger:      p.Logger,
		baseURL:     p.BaseURL,
		targetLimit: p.TargetLimit,
	}, nil
}

func (e *Engine) audit(ctx context.Context, level, message string, data map[string]any) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Add(ctx, level, "lighthouse", message, data); err != nil {
		e.logger.Warn("activity log write failed", zap.Error(err))
	}
}

// SyncTargets registers published pages as audit targets, newest coverage
// capped at the configured limit. Already-tracked pages are kept as-is.
func (e *Engine) SyncTargets(ctx context.Context) (int, error) {
	published, err := e.pages.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list published pages: %w", err)
	}
	if len(published) > e.targetLimit {
		published = published[:e.targetLimit]
	}

	count := 0
	for _, page := range published {
		if page.Slug == "" {
			continue
		}
		url := pages.Permalink(e.baseURL, page.Slug)
		if err := e.repo.EnsureTarget(ctx, url, page.ID, "page"); err != nil {
			e.logger.Warn("target sync failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		count++
	}

	e.audit(ctx, "info", "Synced lighthouse targets", map[string]any{"count": count, "limit": e.targetLimit})
	return count, nil
}

// RunScan executes one lighthouse_scan_url job. Unlike content jobs, provider
// failures propagate so the queue retries with backoff.
func (e *Engine) RunScan(ctx context.Context, job jobs.Job) error {
	targetID, ok := job.Payload.Int("target_id")
	if !ok || targetID <= 0 {
		return fmt.Errorf("lighthouse scan: target_id is required")
	}
	strategy := NormalizeStrategy(job.Payload.String("strategy"))

	target, err := e.repo.GetTarget(ctx, targetID)
	if err != nil {
		return fmt.Errorf("lighthouse scan: %w", err)
	}
	if target.URL == "" {
		return fmt.Errorf("lighthouse scan: target %d has no url", targetID)
	}

	result, err := e.auditor.Run(ctx, target.URL, strategy)
	if err != nil {
		return fmt.Errorf("lighthouse scan: %w", err)
	}
	report := pagespeed.Normalize(result)

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("lighthouse scan: encode result: %w", err)
	}

	runID, err := e.repo.InsertRun(ctx, Run{
		TargetID:          targetID,
		Strategy:          strategy,
		LighthouseVersion: report.LighthouseVersion,
		PerformanceScore:  report.PerformanceScore,
		SEOScore:          report.SEOScore,
		LCP:               report.LCP,
		CLS:               report.CLS,
		INP:               report.INP,
		RawJSON:           string(raw),
	})
	if err != nil {
		return fmt.Errorf("lighthouse scan: %w", err)
	}

	e.logger.Info("scanned lighthouse target",
		zap.Int64("target_id", targetID),
		zap.String("strategy", strategy),
		zap.Int64("run_id", runID),
	)
	e.audit(ctx, "info", "Scanned target", map[string]any{"target_id": targetID, "strategy": strategy})
	return nil
}

// EnqueueWeeklyScans refreshes the target list and enqueues one mobile and
// one desktop scan per target. Returns the number of jobs enqueued.
func (e *Engine) EnqueueWeeklyScans(ctx context.Context) (int, error) {
	synced, err := e.SyncTargets(ctx)
	if err != nil {
		return 0, err
	}

	targets, err := e.repo.ListTargets(ctx, e.targetLimit)
	if err != nil {
		return 0, fmt.Errorf("list targets: %w", err)
	}

	enqueued := 0
	for _, target := range targets {
		id := target.ID
		for _, strategy := range []string{StrategyMobile, StrategyDesktop} {
			payload := jobs.Payload{"target_id": id, "strategy": strategy}
			if _, err := e.queue.Enqueue(ctx, jobs.TypeLighthouseScan, "lighthouse_target", &id, payload, 0); err != nil {
				e.logger.Warn("enqueue scan failed", zap.Int64("target_id", id), zap.String("strategy", strategy), zap.Error(err))
				continue
			}
			enqueued++
		}
	}

	e.audit(ctx, "info", "Weekly scan jobs enqueued", map[string]any{"targets_synced": synced, "jobs": enqueued})
	return enqueued, nil
}
