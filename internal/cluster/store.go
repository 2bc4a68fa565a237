package cluster

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topicmesh/seo-engine/internal/clock"
	"github.com/topicmesh/seo-engine/internal/pages"
)

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists clusters, their page memberships, keywords, and metrics.
type Store struct {
	pool  dbPool
	clock clock.Clock
	sb    sq.StatementBuilderType
}

// NewStore creates a Postgres-backed cluster store.
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
	return &Store{
		pool:  pool,
		clock: clk,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const clusterColumns = "id, name, slug, status, created_at, updated_at"

// Get returns one cluster by id.
func (s *Store) Get(ctx context.Context, id int64) (Cluster, error) {
	query := fmt.Sprintf("SELECT %s FROM clusters WHERE id = $1;", clusterColumns)
	return s.scanOne(ctx, query, id)
}

// GetBySlug returns one cluster by its unique slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (Cluster, error) {
	query := fmt.Sprintf("SELECT %s FROM clusters WHERE slug = $1;", clusterColumns)
	return s.scanOne(ctx, query, slug)
}

func (s *Store) scanOne(ctx context.Context, query string, arg any) (Cluster, error) {
	var c Cluster
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&c.ID, &c.Name, &c.Slug, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Cluster{}, ErrNotFound
	}
	if err != nil {
		return Cluster{}, fmt.Errorf("get cluster: %w", err)
	}
	return c, nil
}

// List returns clusters newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit, offset int) ([]Cluster, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	builder := s.sb.Select("id", "name", "slug", "status", "created_at", "updated_at").
		From("clusters").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cluster list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		var c Cluster
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return out, nil
}

// Create inserts a cluster, deriving a unique slug from the name. On slug
// collision the slug is suffixed -2, -3, and so on.
func (s *Store) Create(ctx context.Context, name string) (Cluster, error) {
	base := pages.Slugify(name)
	if base == "" {
		return Cluster{}, fmt.Errorf("cluster name yields empty slug")
	}
	slug := base
	for i := 2; i <= 50; i++ {
		if _, err := s.GetBySlug(ctx, slug); err == ErrNotFound {
			break
		} else if err != nil {
			return Cluster{}, err
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}

	now := s.clock.Now().UTC()
	query := `
INSERT INTO clusters (name, slug, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
RETURNING id;
`
	var id int64
	if err := s.pool.QueryRow(ctx, query, name, slug, StatusActive, now).Scan(&id); err != nil {
		return Cluster{}, fmt.Errorf("insert cluster: %w", err)
	}
	return Cluster{ID: id, Name: name, Slug: slug, Status: StatusActive, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateStatus flips a cluster's status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE clusters SET status = $1, updated_at = $2 WHERE id = $3;`
	tag, err := s.pool.Exec(ctx, query, status, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update cluster status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a cluster and its memberships, keywords, and metrics.
func (s *Store) Delete(ctx context.Context, id int64) error {
	for _, query := range []string{
		`DELETE FROM cluster_pages WHERE cluster_id = $1;`,
		`DELETE FROM cluster_keywords WHERE cluster_id = $1;`,
		`DELETE FROM cluster_metrics WHERE cluster_id = $1;`,
	} {
		if _, err := s.pool.Exec(ctx, query, id); err != nil {
			return fmt.Errorf("delete cluster rows: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM clusters WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Pages returns a cluster's page memberships ordered by page id, so the
// pillar tie-break is deterministic: the lowest page id wins.
func (s *Store) Pages(ctx context.Context, clusterID int64) ([]Membership, error) {
	query := `
SELECT id, cluster_id, page_id, role FROM cluster_pages
WHERE cluster_id = $1
ORDER BY page_id ASC;
`
	rows, err := s.pool.Query(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list cluster pages: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.ClusterID, &m.PageID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan cluster page: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cluster pages: %w", err)
	}
	return out, nil
}

// AddPage attaches a page to a cluster. Re-adding an existing page updates
// its role instead of duplicating the row.
func (s *Store) AddPage(ctx context.Context, clusterID, pageID int64, role string) error {
	if role != RolePillar && role != RoleSupport {
		return fmt.Errorf("invalid role %q", role)
	}
	query := `
INSERT INTO cluster_pages (cluster_id, page_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (cluster_id, page_id) DO UPDATE SET role = EXCLUDED.role;
`
	if _, err := s.pool.Exec(ctx, query, clusterID, pageID, role); err != nil {
		return fmt.Errorf("add cluster page: %w", err)
	}
	return nil
}

// RemovePage detaches a page from a cluster.
func (s *Store) RemovePage(ctx context.Context, clusterID, pageID int64) error {
	query := `DELETE FROM cluster_pages WHERE cluster_id = $1 AND page_id = $2;`
	if _, err := s.pool.Exec(ctx, query, clusterID, pageID); err != nil {
		return fmt.Errorf("remove cluster page: %w", err)
	}
	return nil
}

// Keywords returns a cluster's keywords.
func (s *Store) Keywords(ctx context.Context, clusterID int64) ([]Keyword, error) {
	query := `
SELECT id, cluster_id, keyword, search_volume, keyword_difficulty, intent
FROM cluster_keywords
WHERE cluster_id = $1
ORDER BY id ASC;
`
	rows, err := s.pool.Query(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list cluster keywords: %w", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.ClusterID, &k.Keyword, &k.SearchVolume, &k.Difficulty, &k.Intent); err != nil {
			return nil, fmt.Errorf("scan cluster keyword: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cluster keywords: %w", err)
	}
	return out, nil
}

// AddKeyword associates a keyword with a cluster.
func (s *Store) AddKeyword(ctx context.Context, k Keyword) error {
	query := `
INSERT INTO cluster_keywords (cluster_id, keyword, search_volume, keyword_difficulty, intent)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := s.pool.Exec(ctx, query, k.ClusterID, k.Keyword, k.SearchVolume, k.Difficulty, k.Intent); err != nil {
		return fmt.Errorf("add cluster keyword: %w", err)
	}
	return nil
}

// LatestMetrics returns the most recent performance snapshot, or nil when
// the cluster has none yet.
func (s *Store) LatestMetrics(ctx context.Context, clusterID int64) (*Metrics, error) {
	query := `
SELECT id, cluster_id, impressions, clicks, avg_position, recorded_at
FROM cluster_metrics
WHERE cluster_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1;
`
	var m Metrics
	err := s.pool.QueryRow(ctx, query, clusterID).
		Scan(&m.ID, &m.ClusterID, &m.Impressions, &m.Clicks, &m.AvgPosition, &m.RecordedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest metrics: %w", err)
	}
	return &m, nil
}

// AddMetrics appends a performance snapshot.
func (s *Store) AddMetrics(ctx context.Context, m Metrics) error {
	query := `
INSERT INTO cluster_metrics (cluster_id, impressions, clicks, avg_position, recorded_at)
VALUES ($1, $2, $3, $4, $5);
`
	recordedAt := m.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.clock.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, query, m.ClusterID, m.Impressions, m.Clicks, m.AvgPosition, recordedAt); err != nil {
		return fmt.Errorf("add cluster metrics: %w", err)
	}
	return nil
}
