// Package logs persists activity log entries so operators can audit what the
// engine did long after the process logs rotated away.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topicmesh/seo-engine/internal/clock"
)

// Entry levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Entry is one persisted activity record. Context names the subsystem that
// produced it (queue, keywords, clusters, content, lighthouse).
type Entry struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Context   string         `json:"context"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store writes activity entries to Postgres.
type Store struct {
	pool  dbPool
	clock clock.Clock
}

// NewStore creates a Postgres-backed activity log store.
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

// Add appends one entry. Failures here must never break the caller's work,
// so callers typically log the returned error and move on.
func (s *Store) Add(ctx context.Context, level, logContext, message string, data map[string]any) error {
	var body []byte
	if len(data) > 0 {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal log data: %w", err)
		}
	}
	query := `
INSERT INTO activity_logs (level, context, message, data, created_at)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := s.pool.Exec(ctx, query, level, logContext, message, body, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// Latest returns the newest entries, optionally filtered by level.
func (s *Store) Latest(ctx context.Context, level string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if level == "" {
		query := `SELECT id, level, context, message, data, created_at FROM activity_logs ORDER BY id DESC LIMIT $1;`
		rows, err = s.pool.Query(ctx, query, limit)
	} else {
		query := `SELECT id, level, context, message, data, created_at FROM activity_logs WHERE level = $1 ORDER BY id DESC LIMIT $2;`
		rows, err = s.pool.Query(ctx, query, level, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry Entry
			body  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Context, &entry.Message, &body, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &entry.Data); err != nil {
				return nil, fmt.Errorf("unmarshal log data: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	return out, nil
}
