package keywords

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topicmesh/seo-engine/internal/clock"
)

// Candidate statuses.
const (
	CandidateNew      = "new"
	CandidateApproved = "approved"
	CandidateRejected = "rejected"
)

// Cluster statuses.
const (
	ClusterNew   = "new"
	ClusterBuilt = "built"
)

// Raw is one unfiltered discovery row kept for auditability.
type Raw struct {
	Keyword     string
	Source      string
	SourceRef   string
	Volume      int
	CPC         float64
	Competition float64
	Payload     []byte
}

// Candidate is one keyword under consideration.
type Candidate struct {
	ID          int64    `json:"id"`
	Keyword     string   `json:"keyword"`
	Canonical   string   `json:"canonical"`
	Status      string   `json:"status"`
	Intent      string   `json:"intent"`
	Volume      *int     `json:"volume"`
	CPC         *float64 `json:"cpc"`
	Difficulty  *float64 `json:"difficulty"`
	Opportunity *float64 `json:"opportunity"`
	Sources     string   `json:"sources"`
	Notes       *string  `json:"notes"`
}

// ScoredCandidate is the slice of candidate fields clustering needs.
type ScoredCandidate struct {
	Keyword     string
	Volume      int
	Difficulty  *float64
	Opportunity float64
	Intent      string
}

// Metrics are the per-keyword fields difficulty scoring needs.
type Metrics struct {
	Volume int
	Intent string
}

// Cluster groups same-topic keyword variants under a shared key.
type Cluster struct {
	ID             int64    `json:"id"`
	ClusterKey     string   `json:"cluster_key"`
	Representative string   `json:"representative"`
	Keywords       []string `json:"keywords"`
	TotalVolume    int      `json:"total_volume"`
	AvgDifficulty  *float64 `json:"avg_difficulty"`
	Opportunity    float64  `json:"opportunity"`
	PageID         *int64   `json:"page_id"`
	Status         string   `json:"status"`
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists the keyword pipeline tables.
type Store struct {
	pool  dbPool
	clock clock.Clock
	sb    sq.StatementBuilderType
}

// NewStore creates a Postgres-backed keyword store.
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

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// InsertRaw records one discovery row. Duplicate keyword/source pairs are
// silently skipped.
func (s *Store) InsertRaw(ctx context.Context, raw Raw) error {
	query := `
INSERT INTO keyword_raw (keyword, source, source_ref, volume, cpc, competition, raw, discovered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (keyword, source) DO NOTHING;
`
	_, err := s.pool.Exec(ctx, query,
		raw.Keyword, raw.Source, raw.SourceRef, raw.Volume, raw.CPC, raw.Competition, raw.Payload, s.now())
	if err != nil {
		return fmt.Errorf("insert raw keyword: %w", err)
	}
	return nil
}

// CandidateIDs maps existing candidate keywords to their ids.
func (s *Store) CandidateIDs(ctx context.Context, keywords []string) (map[string]int64, error) {
	if len(keywords) == 0 {
		return map[string]int64{}, nil
	}
	query, args, err := s.sb.Select("id", "keyword").
		From("keyword_candidates").
		Where(sq.Eq{"keyword": keywords}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate lookup: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup candidates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id      int64
			keyword string
		)
		if err := rows.Scan(&id, &keyword); err != nil {
			return nil, fmt.Errorf("scan candidate id: %w", err)
		}
		out[keyword] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup candidates: %w", err)
	}
	return out, nil
}

// AppendSource adds a discovery source line to an existing candidate.
func (s *Store) AppendSource(ctx context.Context, id int64, source string) error {
	query := `
UPDATE keyword_candidates
SET sources = COALESCE(sources, '') || $1, updated_at = $2
WHERE id = $3;
`
	if _, err := s.pool.Exec(ctx, query, "\n"+source, s.now(), id); err != nil {
		return fmt.Errorf("append candidate source: %w", err)
	}
	return nil
}

// InsertCandidate adds a new candidate in status new.
func (s *Store) InsertCandidate(ctx context.Context, c Candidate) error {
	query := `
INSERT INTO keyword_candidates (keyword, canonical, status, intent, volume, cpc, difficulty, opportunity, sources, notes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, NULL, $8);
`
	_, err := s.pool.Exec(ctx, query,
		c.Keyword, c.Canonical, CandidateNew, c.Intent, c.Volume, c.CPC, c.Sources, s.now())
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// UnscoredKeywords returns keywords still missing a difficulty score, most
// recently touched first.
func (s *Store) UnscoredKeywords(ctx context.Context, limit int) ([]string, error) {
	query := `
SELECT DISTINCT ON (keyword) keyword FROM (
	SELECT keyword, updated_at FROM keyword_candidates
	WHERE (difficulty IS NULL OR difficulty = 0) AND status IN ($1, $2)
	ORDER BY updated_at DESC
	LIMIT $3
) picked;
`
	rows, err := s.pool.Query(ctx, query, CandidateNew, CandidateApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("list unscored keywords: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, fmt.Errorf("scan unscored keyword: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unscored keywords: %w", err)
	}
	return out, nil
}

// CandidateMetrics returns volume and intent per keyword for scoring.
func (s *Store) CandidateMetrics(ctx context.Context, keywords []string) (map[string]Metrics, error) {
	if len(keywords) == 0 {
		return map[string]Metrics{}, nil
	}
	query, args, err := s.sb.Select("keyword", "COALESCE(volume, 0)", "COALESCE(intent, 'mixed')").
		From("keyword_candidates").
		Where(sq.Eq{"keyword": keywords}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build metrics lookup: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup candidate metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Metrics)
	for rows.Next() {
		var (
			kw string
			m  Metrics
		)
		if err := rows.Scan(&kw, &m.Volume, &m.Intent); err != nil {
			return nil, fmt.Errorf("scan candidate metrics: %w", err)
		}
		out[kw] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup candidate metrics: %w", err)
	}
	return out, nil
}

// ApplyDifficulty writes the scored difficulty, opportunity, and resulting
// status for a keyword.
func (s *Store) ApplyDifficulty(ctx context.Context, keyword string, kd float64, opportunity *float64, status string, notes *string) error {
	query := `
UPDATE keyword_candidates
SET difficulty = $1, opportunity = $2, status = $3, notes = $4, updated_at = $5
WHERE keyword = $6;
`
	if _, err := s.pool.Exec(ctx, query, kd, opportunity, status, notes, s.now(), keyword); err != nil {
		return fmt.Errorf("apply difficulty: %w", err)
	}
	return nil
}

// ScoredApproved returns approved candidates with an opportunity score, best
// first, capped at limit.
func (s *Store) ScoredApproved(ctx context.Context, limit int) ([]ScoredCandidate, error) {
	query := `
SELECT keyword, COALESCE(volume, 0), difficulty, opportunity, COALESCE(intent, 'mixed')
FROM keyword_candidates
WHERE status = $1 AND opportunity IS NOT NULL
ORDER BY opportunity DESC
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, query, CandidateApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("list scored candidates: %w", err)
	}
	defer rows.Close()

	var out []ScoredCandidate
	for rows.Next() {
		var c ScoredCandidate
		if err := rows.Scan(&c.Keyword, &c.Volume, &c.Difficulty, &c.Opportunity, &c.Intent); err != nil {
			return nil, fmt.Errorf("scan scored candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scored candidates: %w", err)
	}
	return out, nil
}

// ClusterIDs maps existing cluster keys to their ids.
func (s *Store) ClusterIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	query, args, err := s.sb.Select("id", "cluster_key").
		From("keyword_clusters").
		Where(sq.Eq{"cluster_key": keys}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cluster lookup: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup clusters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan cluster id: %w", err)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup clusters: %w", err)
	}
	return out, nil
}

// UpdateCluster refreshes an existing cluster's rollup fields.
func (s *Store) UpdateCluster(ctx context.Context, id int64, c Cluster) error {
	body, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("marshal cluster keywords: %w", err)
	}
	query := `
UPDATE keyword_clusters
SET representative = $1, keywords = $2, total_volume = $3, avg_difficulty = $4, opportunity = $5, updated_at = $6
WHERE id = $7;
`
	if _, err := s.pool.Exec(ctx, query,
		c.Representative, body, c.TotalVolume, c.AvgDifficulty, c.Opportunity, s.now(), id); err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	return nil
}

// InsertCluster adds a new cluster in status new with no page yet.
func (s *Store) InsertCluster(ctx context.Context, c Cluster) error {
	body, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("marshal cluster keywords: %w", err)
	}
	query := `
INSERT INTO keyword_clusters (cluster_key, representative, keywords, total_volume, avg_difficulty, opportunity, page_id, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8);
`
	if _, err := s.pool.Exec(ctx, query,
		c.ClusterKey, c.Representative, body, c.TotalVolume, c.AvgDifficulty, c.Opportunity, ClusterNew, s.now()); err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}
	return nil
}

// TopUnbuiltClusters returns the best clusters still waiting for a page.
func (s *Store) TopUnbuiltClusters(ctx context.Context, limit int) ([]Cluster, error) {
	query := `
SELECT id, cluster_key, representative, keywords, total_volume, avg_difficulty, opportunity, page_id, status
FROM keyword_clusters
WHERE status = $1 AND page_id IS NULL
ORDER BY opportunity DESC, total_volume DESC
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, query, ClusterNew, limit)
	if err != nil {
		return nil, fmt.Errorf("list unbuilt clusters: %w", err)
	}
	defer rows.Close()
	return scanClusters(rows)
}

// BindClusterPage records the page built for a cluster and flips it to built.
func (s *Store) BindClusterPage(ctx context.Context, clusterID, pageID int64) error {
	query := `UPDATE keyword_clusters SET page_id = $1, status = $2, updated_at = $3 WHERE id = $4;`
	if _, err := s.pool.Exec(ctx, query, pageID, ClusterBuilt, s.now(), clusterID); err != nil {
		return fmt.Errorf("bind cluster page: %w", err)
	}
	return nil
}

// UnbindClusterPage reverts a cluster whose page creation bookkeeping failed.
func (s *Store) UnbindClusterPage(ctx context.Context, clusterID int64) error {
	query := `UPDATE keyword_clusters SET page_id = NULL, status = $1, updated_at = $2 WHERE id = $3;`
	if _, err := s.pool.Exec(ctx, query, ClusterNew, s.now(), clusterID); err != nil {
		return fmt.Errorf("unbind cluster page: %w", err)
	}
	return nil
}

// InsertGeneratedPage records a page in the generated-pages ledger.
func (s *Store) InsertGeneratedPage(ctx context.Context, pageID, clusterID int64, keyword, kind, indexing string) error {
	query := `
INSERT INTO generated_pages (page_id, cluster_id, keyword, kind, indexing, last_generated_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	if _, err := s.pool.Exec(ctx, query, pageID, clusterID, keyword, kind, indexing, s.now()); err != nil {
		return fmt.Errorf("insert generated page: %w", err)
	}
	return nil
}

// InsertIndexingCandidate logs a URL awaiting manual indexing approval.
func (s *Store) InsertIndexingCandidate(ctx context.Context, url string, details map[string]any) error {
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal indexing details: %w", err)
	}
	query := `
INSERT INTO indexing_candidates (url, status, provider, details, created_at)
VALUES ($1, 'candidate', 'manual', $2, $3);
`
	if _, err := s.pool.Exec(ctx, query, url, body, s.now()); err != nil {
		return fmt.Errorf("insert indexing candidate: %w", err)
	}
	return nil
}

// TopCategoryTerms returns the most-used category taxonomy terms, seeds for
// the discovery phase.
func (s *Store) TopCategoryTerms(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
SELECT name FROM taxonomy_terms
WHERE kind LIKE '%cat%'
ORDER BY usage_count DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list category terms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category term: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list category terms: %w", err)
	}
	return out, nil
}

// NextCompetitorRotation bumps the persistent competitor cursor and returns
// the value before the bump.
func (s *Store) NextCompetitorRotation(ctx context.Context) (int, error) {
	query := `
INSERT INTO engine_state (key, value) VALUES ('competitor_rotation', 1)
ON CONFLICT (key) DO UPDATE SET value = engine_state.value + 1
RETURNING value - 1;
`
	var rotation int
	if err := s.pool.QueryRow(ctx, query).Scan(&rotation); err != nil {
		return 0, fmt.Errorf("advance competitor rotation: %w", err)
	}
	return rotation, nil
}

// ListCandidates returns candidates for the admin surfaces, optionally
// filtered by status.
func (s *Store) ListCandidates(ctx context.Context, status string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	builder := s.sb.Select("id", "keyword", "canonical", "status", "intent", "volume", "cpc", "difficulty", "opportunity", "COALESCE(sources, '')", "notes").
		From("keyword_candidates").
		OrderBy("opportunity DESC NULLS LAST", "id DESC").
		Limit(uint64(limit))
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Keyword, &c.Canonical, &c.Status, &c.Intent, &c.Volume, &c.CPC, &c.Difficulty, &c.Opportunity, &c.Sources, &c.Notes); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// ListClusters returns clusters best-first for the admin surfaces.
func (s *Store) ListClusters(ctx context.Context, limit int) ([]Cluster, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, cluster_key, representative, keywords, total_volume, avg_difficulty, opportunity, page_id, status
FROM keyword_clusters
ORDER BY opportunity DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()
	return scanClusters(rows)
}

func scanClusters(rows pgx.Rows) ([]Cluster, error) {
	var out []Cluster
	for rows.Next() {
		var (
			c    Cluster
			body []byte
		)
		if err := rows.Scan(&c.ID, &c.ClusterKey, &c.Representative, &body, &c.TotalVolume, &c.AvgDifficulty, &c.Opportunity, &c.PageID, &c.Status); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &c.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal cluster keywords: %w", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan clusters: %w", err)
	}
	return out, nil
}
