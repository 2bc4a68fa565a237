package pages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/topicmesh/seo-engine/internal/clock"
)

// Memory is an in-memory Store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	pages map[int64]Page
	meta  map[int64]map[string]string
	next  int64
	clock clock.Clock
}

// NewMemory creates an empty in-memory page store.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		pages: make(map[int64]Page),
		meta:  make(map[int64]map[string]string),
		next:  1,
		clock: clk,
	}
}

func (s *Memory) now() time.Time {
	if s.clock != nil {
		return s.clock.Now().UTC()
	}
	return time.Now().UTC()
}

// Get fetches a page by id.
func (s *Memory) Get(_ context.Context, id int64) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return Page{}, ErrNotFound
	}
	return p, nil
}

// Create inserts a page and returns its id.
func (s *Memory) Create(_ context.Context, page Page) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page.ID = s.next
	s.next++
	now := s.now()
	page.CreatedAt = now
	page.UpdatedAt = now
	s.pages[page.ID] = page
	return page.ID, nil
}

// UpdateContent replaces a page's content.
func (s *Memory) UpdateContent(_ context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return ErrNotFound
	}
	p.Content = content
	p.UpdatedAt = s.now()
	s.pages[id] = p
	return nil
}

// UpdateTitle replaces a page's title.
func (s *Memory) UpdateTitle(_ context.Context, id int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return ErrNotFound
	}
	p.Title = title
	p.UpdatedAt = s.now()
	s.pages[id] = p
	return nil
}

// Delete removes a page and its metadata.
func (s *Memory) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; !ok {
		return ErrNotFound
	}
	delete(s.pages, id)
	delete(s.meta, id)
	return nil
}

// GetMeta reads one metadata value. A missing key returns an empty string.
func (s *Memory) GetMeta(_ context.Context, id int64, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[id][key], nil
}

// SetMeta upserts one metadata value.
func (s *Memory) SetMeta(_ context.Context, id int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta[id] == nil {
		s.meta[id] = make(map[string]string)
	}
	s.meta[id][key] = value
	return nil
}

// DeleteMeta removes one metadata key, ignoring absent keys.
func (s *Memory) DeleteMeta(_ context.Context, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta[id], key)
	return nil
}

// SlugExists reports whether any page already uses the slug.
func (s *Memory) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pages {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// ListPublished returns all published pages in id order.
func (s *Memory) ListPublished(_ context.Context) ([]Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Page
	for _, p := range s.pages {
		if p.Status == StatusPublished {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
