package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topicmesh/seo-engine/internal/clock"
)

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists jobs in Postgres.
type Store struct {
	pool  dbPool
	clock clock.Clock
	lease time.Duration
}

// StoreConfig controls the Postgres connection pool used by the job store.
type StoreConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
	Lease    time.Duration
}

// NewStore creates a Postgres-backed job store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig, clk clock.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(pool, cfg.Lease, clk)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool, lease time.Duration, clk clock.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Store{pool: pool, clock: clk, lease: lease}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, type, entity_type, entity_id, payload, status, attempts, run_after, locked_until, last_error, created_at, updated_at`

// Enqueue inserts a queued job and returns its id. A positive delay pushes
// run_after into the future.
func (s *Store) Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload Payload, delay time.Duration) (int64, error) {
	if jobType == "" {
		return 0, fmt.Errorf("job type is required")
	}
	now := s.clock.Now().UTC()
	runAfter := now
	if delay > 0 {
		runAfter = now.Add(delay)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	query := `
INSERT INTO jobs (type, entity_type, entity_id, payload, status, attempts, run_after, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
RETURNING id;
`
	var id int64
	if err := s.pool.QueryRow(ctx, query, jobType, entityType, entityID, body, StatusQueued, runAfter, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ClaimBatch atomically claims up to limit eligible jobs in FIFO order,
// marking them running with a lease. Eligible means queued, due, and not
// held by a live lease. Concurrent claimers skip each other's rows.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now().UTC()
	lockedUntil := now.Add(s.lease)
	query := `
UPDATE jobs SET status = $1, locked_until = $2, updated_at = $3
WHERE id IN (
	SELECT id FROM jobs
	WHERE status = $4 AND run_after <= $3 AND (locked_until IS NULL OR locked_until < $3)
	ORDER BY id ASC
	LIMIT $5
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;
`
	rows, err := s.pool.Query(ctx, query, StatusRunning, lockedUntil, now, StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// MarkSuccess finalizes a job after its handler completed.
func (s *Store) MarkSuccess(ctx context.Context, id int64) error {
	now := s.clock.Now().UTC()
	query := `
UPDATE jobs SET status = $1, locked_until = NULL, last_error = NULL, updated_at = $2
WHERE id = $3;
`
	tag, err := s.pool.Exec(ctx, query, StatusSuccess, now, id)
	if err != nil {
		return fmt.Errorf("mark job success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt. The attempt count is bumped (never
// recorded below one), the job is requeued with the given delay floored at
// one minute, and after MaxAttempts it is dead-lettered instead.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause string, delay time.Duration) error {
	now := s.clock.Now().UTC()
	if delay < time.Minute {
		delay = time.Minute
	}
	runAfter := now.Add(delay)
	query := `
UPDATE jobs SET
	attempts = GREATEST(attempts, 0) + 1,
	status = CASE WHEN GREATEST(attempts, 0) + 1 >= $1 THEN $2 ELSE $3 END,
	run_after = $4,
	locked_until = NULL,
	last_error = $5,
	updated_at = $6
WHERE id = $7;
`
	tag, err := s.pool.Exec(ctx, query, MaxAttempts, StatusDead, StatusQueued, runAfter, cause, now, id)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a single job by id.
func (s *Store) Get(ctx context.Context, id int64) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row := s.pool.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY id DESC LIMIT $1;`
		rows, err = s.pool.Query(ctx, query, limit)
	} else {
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY id DESC LIMIT $2;`
		rows, err = s.pool.Query(ctx, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus reports how many jobs sit in each lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (Counts, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	var counts Counts
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scan job counts: %w", err)
		}
		switch status {
		case StatusQueued:
			counts.Queued = n
		case StatusRunning:
			counts.Running = n
		case StatusSuccess:
			counts.Success = n
		case StatusDead:
			counts.Dead = n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// PendingScheduled reports whether a queued or running job of the given type
// already exists, so schedulers do not pile up duplicate cycles.
func (s *Store) PendingScheduled(ctx context.Context, jobType string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM jobs WHERE type = $1 AND status IN ($2, $3));`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, jobType, StatusQueued, StatusRunning).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending jobs: %w", err)
	}
	return exists, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job  Job
		body []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.EntityType,
		&job.EntityID,
		&body,
		&job.Status,
		&job.Attempts,
		&job.RunAfter,
		&job.LockedUntil,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &job.Payload); err != nil {
			return Job{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return job, nil
}
