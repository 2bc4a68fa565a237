// Package scheduler drives the recurring engine work with in-process tickers:
// a daily tick for discovery and content upkeep, a weekly tick for audits.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
)

const (
	defaultScanLimit       = 20
	defaultHealthThreshold = 70
	// Pages without a recorded health score are assumed weak.
	assumedHealth = 40
)

// Enqueuer is the queue surface the scheduler needs. *jobs.Store implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error)
	PendingScheduled(ctx context.Context, jobType string) (bool, error)
}

// PublishEnqueuer schedules content optimization for a page.
// *content.Engine implements it.
type PublishEnqueuer interface {
	EnqueueOnPublish(ctx context.Context, pageID int64) error
}

// AuditScheduler fans out the recurring lighthouse scans.
// *lighthouse.Engine implements it.
type AuditScheduler interface {
	EnqueueWeeklyScans(ctx context.Context) (int, error)
}

// Activity records durable audit entries. *logs.Store implements it.
type Activity interface {
	Add(ctx context.Context, level, logContext, message string, data map[string]any) error
}

// Scheduler enqueues the periodic system jobs and runs the daily publish
// scan that backfills optimization for weak pages.
type Scheduler struct {
	queue           Enqueuer
	pages           pages.Store
	content         PublishEnqueuer
	audits          AuditScheduler
	activity        Activity
	logger          *zap.Logger
	scanLimit       int
	healthThreshold int
}

// Params collects Scheduler dependencies. Content and Audits are optional;
// the corresponding work is skipped when absent.
type Params struct {
	Queue           Enqueuer
	Pages           pages.Store
	Content         PublishEnqueuer
	Audits          AuditScheduler
	Activity        Activity
	Logger          *zap.Logger
	ScanLimit       int
	HealthThreshold int
}

// New constructs a Scheduler.
func New(p Params) (*Scheduler, error) {
	if p.Queue == nil || p.Pages == nil {
		return nil, fmt.Errorf("queue and pages are required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.ScanLimit <= 0 {
		p.ScanLimit = defaultScanLimit
	}
	if p.HealthThreshold <= 0 {
		p.HealthThreshold = defaultHealthThreshold
	}
	return &Scheduler{
		queue:           p.Queue,
		pages:           p.Pages,
		content:         p.Content,
		audits:          p.Audits,
		activity:        p.Activity,
		logger:          p.Logger,
		scanLimit:       p.ScanLimit,
		healthThreshold: p.HealthThreshold,
	}, nil
}

func (s *Scheduler) audit(ctx context.Context, message string, data map[string]any) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Add(ctx, "info", "cron", message, data); err != nil {
		s.logger.Warn("activity log write failed", zap.Error(err))
	}
}

// Run fires the daily and weekly ticks until the context finishes. The queue
// drain loop runs separately in the worker.
func (s *Scheduler) Run(ctx context.Context) {
	daily := time.NewTicker(24 * time.Hour)
	weekly := time.NewTicker(7 * 24 * time.Hour)
	defer daily.Stop()
	defer weekly.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-daily.C:
			if err := s.RunDaily(ctx); err != nil {
				s.logger.Error("daily tick failed", zap.Error(err))
			}
		case <-weekly.C:
			if err := s.RunWeekly(ctx); err != nil {
				s.logger.Error("weekly tick failed", zap.Error(err))
			}
		}
	}
}

// RunDaily enqueues the daily system jobs and runs the publish scan. Cycles
// already queued or running are not duplicated.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	s.audit(ctx, "Daily tick", nil)

	if _, err := s.queue.Enqueue(ctx, jobs.TypeHealthcheck, "system", nil, jobs.Payload{"note": "daily tick"}, 0); err != nil {
		return fmt.Errorf("enqueue healthcheck: %w", err)
	}
	if err := s.enqueueCycle(ctx, jobs.TypeKeywordCycle, jobs.Payload{"trigger": "daily"}); err != nil {
		return err
	}

	if _, err := s.PublishScan(ctx); err != nil {
		s.logger.Warn("publish scan failed", zap.Error(err))
	}
	return nil
}

// RunWeekly enqueues the weekly system jobs and fans out lighthouse scans.
func (s *Scheduler) RunWeekly(ctx context.Context) error {
	s.audit(ctx, "Weekly tick", nil)

	if _, err := s.queue.Enqueue(ctx, jobs.TypeHealthcheck, "system", nil, jobs.Payload{"note": "weekly tick"}, 0); err != nil {
		return fmt.Errorf("enqueue healthcheck: %w", err)
	}
	if err := s.enqueueCycle(ctx, jobs.TypePageSpeedCycle, jobs.Payload{"trigger": "weekly"}); err != nil {
		return err
	}

	if s.audits != nil {
		enqueued, err := s.audits.EnqueueWeeklyScans(ctx)
		if err != nil {
			s.logger.Warn("lighthouse fan-out failed", zap.Error(err))
		} else {
			s.logger.Info("lighthouse scans enqueued", zap.Int("jobs", enqueued))
		}
	}
	return nil
}

func (s *Scheduler) enqueueCycle(ctx context.Context, jobType string, payload jobs.Payload) error {
	pending, err := s.queue.PendingScheduled(ctx, jobType)
	if err != nil {
		return fmt.Errorf("check pending %s: %w", jobType, err)
	}
	if pending {
		s.logger.Debug("cycle already pending", zap.String("type", jobType))
		return nil
	}
	if _, err := s.queue.Enqueue(ctx, jobType, "system", nil, payload, 0); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

// PublishScan walks the most recently published pages and enqueues content
// optimization for weak ones that were never optimized. Returns the number of
// pages queued.
func (s *Scheduler) PublishScan(ctx context.Context) (int, error) {
	if s.content == nil {
		return 0, nil
	}
	published, err := s.pages.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list published pages: %w", err)
	}
	sort.Slice(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})
	if len(published) > s.scanLimit {
		published = published[:s.scanLimit]
	}

	queued := 0
	for _, page := range published {
		done, err := s.pages.GetMeta(ctx, page.ID, pages.MetaOptimizeDone)
		if err != nil {
			s.logger.Warn("read optimize marker failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		if done != "" {
			continue
		}
		if s.healthScore(ctx, page.ID) >= s.healthThreshold {
			continue
		}
		if err := s.content.EnqueueOnPublish(ctx, page.ID); err != nil {
			s.logger.Warn("enqueue optimize failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		queued++
	}

	if queued > 0 {
		s.audit(ctx, "Publish scan queued pages", map[string]any{"queued": queued})
	}
	return queued, nil
}

func (s *Scheduler) healthScore(ctx context.Context, pageID int64) int {
	raw, err := s.pages.GetMeta(ctx, pageID, pages.MetaHealthScore)
	if err != nil || raw == "" {
		return assumedHealth
	}
	health, err := strconv.Atoi(raw)
	if err != nil || health <= 0 {
		return assumedHealth
	}
	return health
}
