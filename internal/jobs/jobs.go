// Package jobs implements the durable job queue backing all background work.
package jobs

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// Status enumerates job lifecycle states persisted in jobs.status.
type Status string

// Job statuses. Success and Dead are terminal.
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusDead    Status = "dead"
)

// Job types dispatched by the worker.
const (
	TypeHealthcheck    = "healthcheck"
	TypeOptimizePost   = "optimize_post"
	TypeKeywordCycle   = "keyword_cycle"
	TypePageSpeedCycle = "pagespeed_cycle"
	TypeLighthouseScan = "lighthouse_scan_url"
)

// MaxAttempts is the attempt count at which a failing job is dead-lettered.
const MaxAttempts = 4

// Payload is the opaque structured payload interpreted by the matching handler.
type Payload map[string]any

// Job models one row of the jobs table.
type Job struct {
	ID          int64
	Type        string
	EntityType  string
	EntityID    *int64
	Payload     Payload
	Status      Status
	Attempts    int
	RunAfter    time.Time
	LockedUntil *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Counts aggregates jobs per status for reporting.
type Counts struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Success int `json:"success"`
	Dead    int `json:"dead"`
}

// Backoff returns the retry delay applied after the given attempt count.
func Backoff(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return 15 * time.Minute
	case attempts == 2:
		return time.Hour
	case attempts == 3:
		return 6 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// Mode values recognized by keyword_cycle payloads.
const (
	ModeFull       = "full"
	ModeImportOnly = "import_only"
)

// Mode extracts the keyword_cycle mode from a payload, defaulting to full.
func (p Payload) Mode() string {
	if p == nil {
		return ModeFull
	}
	if m, ok := p["mode"].(string); ok && m != "" {
		return m
	}
	return ModeFull
}

// Int extracts an integer field from a payload, tolerating JSON float decoding.
func (p Payload) Int(key string) (int64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// String extracts a string field from a payload.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}
