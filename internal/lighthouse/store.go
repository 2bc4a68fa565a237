package lighthouse

import (
	"context"
	"fmt"
	"strings"
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

// Store persists lighthouse targets and their run history.
type Store struct {
	pool  dbPool
	clock clock.Clock
}

// NewStore creates a Postgres-backed lighthouse store.
func NewStore(ctx context.Context, dsn string, clk clock.Clock) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(pool, clk)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool, clk clock.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Store{pool: pool, clock: clk}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const targetColumns = "id, url, page_id, type, last_scanned_mobile, last_scanned_desktop, created_at"

// EnsureTarget registers a URL for auditing. A page already tracked keeps its
// existing row.
func (s *Store) EnsureTarget(ctx context.Context, url string, pageID int64, pageType string) error {
	if url == "" {
		return fmt.Errorf("target url is required")
	}
	if pageType == "" {
		pageType = "page"
	}
	query := `
INSERT INTO lighthouse_targets (url, page_id, type, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (page_id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, url, pageID, pageType, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("ensure lighthouse target: %w", err)
	}
	return nil
}

// GetTarget returns one target by id.
func (s *Store) GetTarget(ctx context.Context, id int64) (Target, error) {
	query := fmt.Sprintf("SELECT %s FROM lighthouse_targets WHERE id = $1;", targetColumns)
	var t Target
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.URL, &t.PageID, &t.Type, &t.LastScannedMobile, &t.LastScannedDesktop, &t.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return Target{}, ErrNotFound
	}
	if err != nil {
		return Target{}, fmt.Errorf("get lighthouse target: %w", err)
	}
	return t, nil
}

// ListTargets returns targets in insertion order, oldest first.
func (s *Store) ListTargets(ctx context.Context, limit int) ([]Target, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM lighthouse_targets ORDER BY id ASC LIMIT $1;", targetColumns)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list lighthouse targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.URL, &t.PageID, &t.Type, &t.LastScannedMobile, &t.LastScannedDesktop, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lighthouse target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ListWithLatest returns targets newest first, each joined with its most
// recent run for the given strategy.
func (s *Store) ListWithLatest(ctx context.Context, strategy string, limit int) ([]TargetStatus, error) {
	strategy = NormalizeStrategy(strategy)
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT %s,
       r.id, r.strategy, r.lighthouse_version, r.performance_score, r.seo_score,
       r.lcp, r.cls, r.inp, r.created_at
FROM lighthouse_targets t
LEFT JOIN LATERAL (
    SELECT id, strategy, lighthouse_version, performance_score, seo_score, lcp, cls, inp, created_at
    FROM lighthouse_runs
    WHERE target_id = t.id AND strategy = $1
    ORDER BY created_at DESC, id DESC
    LIMIT 1
) r ON true
ORDER BY t.id DESC
LIMIT $2;`, prefixColumns("t", targetColumns))
	rows, err := s.pool.Query(ctx, query, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("list lighthouse status: %w", err)
	}
	defer rows.Close()

	var statuses []TargetStatus
	for rows.Next() {
		var st TargetStatus
		var run Run
		var runID *int64
		var runStrategy, runVersion *string
		var runAt *time.Time
		err := rows.Scan(
			&st.Target.ID, &st.Target.URL, &st.Target.PageID, &st.Target.Type,
			&st.Target.LastScannedMobile, &st.Target.LastScannedDesktop, &st.Target.CreatedAt,
			&runID, &runStrategy, &runVersion, &run.PerformanceScore, &run.SEOScore,
			&run.LCP, &run.CLS, &run.INP, &runAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lighthouse status: %w", err)
		}
		if runID != nil {
			run.ID = *runID
			run.TargetID = st.Target.ID
			run.Strategy = *runStrategy
			run.LighthouseVersion = *runVersion
			run.CreatedAt = *runAt
			st.Latest = &run
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// InsertRun records one completed audit and stamps the target's per-strategy
// scan time.
func (s *Store) InsertRun(ctx context.Context, run Run) (int64, error) {
	if run.TargetID <= 0 {
		return 0, fmt.Errorf("run target id is required")
	}
	run.Strategy = NormalizeStrategy(run.Strategy)
	now := s.clock.Now().UTC()
	query := `
INSERT INTO lighthouse_runs (target_id, strategy, lighthouse_version, performance_score, seo_score, lcp, cls, inp, raw_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id;`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		run.TargetID, run.Strategy, run.LighthouseVersion,
		run.PerformanceScore, run.SEOScore, run.LCP, run.CLS, run.INP,
		run.RawJSON, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lighthouse run: %w", err)
	}

	col := "last_scanned_mobile"
	if run.Strategy == StrategyDesktop {
		col = "last_scanned_desktop"
	}
	update := fmt.Sprintf("UPDATE lighthouse_targets SET %s = $1 WHERE id = $2;", col)
	if _, err := s.pool.Exec(ctx, update, now, run.TargetID); err != nil {
		return 0, fmt.Errorf("stamp lighthouse target: %w", err)
	}
	return id, nil
}

// LatestRawResults returns the raw provider payload of the newest run per
// target for one strategy.
func (s *Store) LatestRawResults(ctx context.Context, strategy string) ([]string, error) {
	strategy = NormalizeStrategy(strategy)
	query := `
SELECT DISTINCT ON (target_id) raw_json
FROM lighthouse_runs
WHERE strategy = $1
ORDER BY target_id, created_at DESC, id DESC;`
	rows, err := s.pool.Query(ctx, query, strategy)
	if err != nil {
		return nil, fmt.Errorf("latest lighthouse results: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan lighthouse result: %w", err)
		}
		payloads = append(payloads, raw)
	}
	return payloads, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
