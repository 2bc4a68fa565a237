package pages

import (
	"context"
	"errors"
	"fmt"

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

// PG implements Store on Postgres.
type PG struct {
	pool  dbPool
	clock clock.Clock
}

// NewPG creates a Postgres-backed page store.
func NewPG(ctx context.Context, dsn string, clk clock.Clock) (*PG, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPGWithPool(pool, clk)
}

// NewPGWithPool constructs a store from an existing pool (primarily for testing).
func NewPGWithPool(pool dbPool, clk clock.Clock) (*PG, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &PG{pool: pool, clock: clk}, nil
}

// Close releases the underlying pool resources.
func (s *PG) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const pageColumns = `id, title, slug, status, content, noindex, created_at, updated_at`

// Get fetches a page by id.
func (s *PG) Get(ctx context.Context, id int64) (Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE id = $1;`
	var p Page
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Slug, &p.Status, &p.Content, &p.NoIndex, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// Create inserts a page and returns its id.
func (s *PG) Create(ctx context.Context, page Page) (int64, error) {
	now := s.clock.Now().UTC()
	query := `
INSERT INTO pages (title, slug, status, content, noindex, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING id;
`
	var id int64
	if err := s.pool.QueryRow(ctx, query, page.Title, page.Slug, page.Status, page.Content, page.NoIndex, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("create page: %w", err)
	}
	return id, nil
}

// UpdateContent replaces a page's content.
func (s *PG) UpdateContent(ctx context.Context, id int64, content string) error {
	query := `UPDATE pages SET content = $1, updated_at = $2 WHERE id = $3;`
	tag, err := s.pool.Exec(ctx, query, content, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update page content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitle replaces a page's title.
func (s *PG) UpdateTitle(ctx context.Context, id int64, title string) error {
	query := `UPDATE pages SET title = $1, updated_at = $2 WHERE id = $3;`
	tag, err := s.pool.Exec(ctx, query, title, s.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update page title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a page.
func (s *PG) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pages WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SlugExists reports whether any page already uses the slug.
func (s *PG) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE slug = $1);`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// GetMeta reads one metadata value. A missing key returns an empty string.
func (s *PG) GetMeta(ctx context.Context, id int64, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM page_meta WHERE page_id = $1 AND key = $2;`, id, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get page meta: %w", err)
	}
	return value, nil
}

// SetMeta upserts one metadata value.
func (s *PG) SetMeta(ctx context.Context, id int64, key, value string) error {
	query := `
INSERT INTO page_meta (page_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (page_id, key) DO UPDATE SET value = EXCLUDED.value;
`
	if _, err := s.pool.Exec(ctx, query, id, key, value); err != nil {
		return fmt.Errorf("set page meta: %w", err)
	}
	return nil
}

// DeleteMeta removes one metadata key, ignoring absent keys.
func (s *PG) DeleteMeta(ctx context.Context, id int64, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM page_meta WHERE page_id = $1 AND key = $2;`, id, key); err != nil {
		return fmt.Errorf("delete page meta: %w", err)
	}
	return nil
}

// ListPublished returns all published pages.
func (s *PG) ListPublished(ctx context.Context) ([]Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE status = $1 ORDER BY id ASC;`
	rows, err := s.pool.Query(ctx, query, StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.Status, &p.Content, &p.NoIndex, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list published pages: %w", err)
	}
	return out, nil
}
