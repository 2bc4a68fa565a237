// Package worker claims queued jobs and dispatches them to type handlers.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/clock"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/locks"
	"github.com/topicmesh/seo-engine/internal/metrics"
)

// runLockName guards scheduled runs so only one instance drains the queue.
const runLockName = "worker_run"

const (
	defaultBatchSize = 5
	defaultLockTTL   = 5 * time.Minute
	defaultTick      = 10 * time.Minute
)

// Handler executes one job. A returned error requeues the job with backoff
// until it dead-letters.
type Handler func(ctx context.Context, job jobs.Job) error

// Queue is the job store surface the worker drives. *jobs.Store implements it.
type Queue interface {
	ClaimBatch(ctx context.Context, limit int) ([]jobs.Job, error)
	MarkSuccess(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string, delay time.Duration) error
	CountByStatus(ctx context.Context) (jobs.Counts, error)
}

// Locker hands out advisory locks. *locks.Manager implements it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*locks.Lock, bool, error)
}

// Worker drains the job queue in batches, routing each job by type.
type Worker struct {
	queue     Queue
	locker    Locker
	handlers  map[string]Handler
	logger    *zap.Logger
	clock     clock.Clock
	batchSize int
	lockTTL   time.Duration
	tick      time.Duration
}

// Params collects Worker dependencies.
type Params struct {
	Queue     Queue
	Locker    Locker
	Logger    *zap.Logger
	Clock     clock.Clock
	BatchSize int
	LockTTL   time.Duration
	Tick      time.Duration
}

// New constructs a Worker. Handlers are registered separately.
func New(p Params) (*Worker, error) {
	if p.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if p.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.LockTTL <= 0 {
		p.LockTTL = defaultLockTTL
	}
	if p.Tick <= 0 {
		p.Tick = defaultTick
	}
	return &Worker{
		queue:     p.Queue,
		locker:    p.Locker,
		handlers:  make(map[string]Handler),
		logger:    p.Logger,
		clock:     p.Clock,
		batchSize: p.BatchSize,
		lockTTL:   p.LockTTL,
		tick:      p.Tick,
	}, nil
}

// Register binds a handler to a job type, replacing any previous binding.
func (w *Worker) Register(jobType string, h Handler) {
	if jobType == "" || h == nil {
		return
	}
	w.handlers[jobType] = h
}

// Run drains the queue on a fixed tick until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		if _, err := w.RunScheduled(ctx); err != nil {
			w.logger.Error("scheduled run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunScheduled drains one batch under the shared advisory lock. When another
// instance holds the lock the run is skipped.
func (w *Worker) RunScheduled(ctx context.Context) (int, error) {
	if w.locker != nil {
		lock, ok, err := w.locker.Acquire(ctx, runLockName, w.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			w.logger.Debug("queue run already in progress")
			return 0, nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				w.logger.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}
	return w.RunOnce(ctx)
}

// RunOnce claims and processes one batch, bypassing the advisory lock. Manual
// runs triggered from the API use this directly.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	batch, err := w.queue.ClaimBatch(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}

	for _, job := range batch {
		w.process(ctx, job)
	}
	w.publishDepth(ctx)
	return len(batch), nil
}

func (w *Worker) process(ctx context.Context, job jobs.Job) {
	start := w.clock.Now()

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Warn("unknown job type", zap.Int64("job_id", job.ID), zap.String("type", job.Type))
		if err := w.queue.MarkSuccess(ctx, job.ID); err != nil {
			w.logger.Error("mark job done failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		metrics.ObserveJob(job.Type, "skipped", w.clock.Now().Sub(start))
		return
	}

	err := w.invoke(ctx, handler, job)
	elapsed := w.clock.Now().Sub(start)
	if err != nil {
		w.logger.Warn("job failed",
			zap.Int64("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)
		delay := jobs.Backoff(job.Attempts + 1)
		if markErr := w.queue.MarkFailed(ctx, job.ID, err.Error(), delay); markErr != nil {
			w.logger.Error("mark job failed errored", zap.Int64("job_id", job.ID), zap.Error(markErr))
		}
		metrics.ObserveJob(job.Type, "failed", elapsed)
		return
	}

	if err := w.queue.MarkSuccess(ctx, job.ID); err != nil {
		w.logger.Error("mark job done failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(job.Type, "success", elapsed)
}

// invoke shields the batch from a panicking handler.
func (w *Worker) invoke(ctx context.Context, handler Handler, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) publishDepth(ctx context.Context) {
	counts, err := w.queue.CountByStatus(ctx)
	if err != nil {
		w.logger.Debug("count queue depth failed", zap.Error(err))
		return
	}
	metrics.SetQueueDepth(string(jobs.StatusQueued), counts.Queued)
	metrics.SetQueueDepth(string(jobs.StatusRunning), counts.Running)
	metrics.SetQueueDepth(string(jobs.StatusDead), counts.Dead)
}
