// Package pages models the site pages the engine creates, optimizes, and
// interlinks.
package pages

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound signals that the requested page does not exist.
var ErrNotFound = errors.New("page not found")

// ErrSlugTaken signals that no free slug variant could be found.
var ErrSlugTaken = errors.New("slug taken")

// Page statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "publish"
)

// Page is one site page.
type Page struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	Content   string    `json:"content"`
	NoIndex   bool      `json:"noindex"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta keys the engine stamps on pages it manages.
const (
	MetaGenerated        = "generated"
	MetaClusterID        = "cluster_id"
	MetaKeyword          = "keyword"
	MetaOptimizeDone     = "optimize_done"
	MetaOptimizeEnqueued = "optimize_enqueued"
	MetaSEOTitle         = "seo_title"
	MetaDescription      = "meta_description"
	MetaFocusKeyword     = "focus_keyword"
	MetaHealthScore      = "health_score"
)

// Store is the persistence port for pages and their metadata.
type Store interface {
	Get(ctx context.Context, id int64) (Page, error)
	Create(ctx context.Context, page Page) (int64, error)
	UpdateContent(ctx context.Context, id int64, content string) error
	UpdateTitle(ctx context.Context, id int64, title string) error
	Delete(ctx context.Context, id int64) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListPublished(ctx context.Context) ([]Page, error)
	GetMeta(ctx context.Context, id int64, key string) (string, error)
	SetMeta(ctx context.Context, id int64, key, value string) error
	DeleteMeta(ctx context.Context, id int64, key string) error
}

// Slugify lowercases a title and collapses everything outside [a-z0-9] into
// single hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Permalink builds the public URL for a page slug.
func Permalink(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/" + slug + "/"
}
