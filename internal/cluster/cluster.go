// Package cluster implements the topic-cluster model: pillar/support page
// linking analysis, structural scoring, advisory rules, and internal link
// injection.
package cluster

import (
	"errors"
	"time"
)

// Page roles within a cluster.
const (
	RolePillar  = "pillar"
	RoleSupport = "support"
)

// Cluster statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// ErrNotFound is returned when a cluster does not exist.
var ErrNotFound = errors.New("cluster not found")

// Cluster is one topic cluster. It owns at most one pillar page, N support
// pages, associated keywords, and a time series of performance snapshots.
type Cluster struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership ties a page to a cluster in a given role. A page appears at
// most once per cluster.
type Membership struct {
	ID        int64  `json:"id"`
	ClusterID int64  `json:"cluster_id"`
	PageID    int64  `json:"page_id"`
	Role      string `json:"role"`
}

// Keyword is one keyword associated with a cluster.
type Keyword struct {
	ID           int64    `json:"id"`
	ClusterID    int64    `json:"cluster_id"`
	Keyword      string   `json:"keyword"`
	SearchVolume *int     `json:"search_volume"`
	Difficulty   *float64 `json:"difficulty"`
	Intent       string   `json:"intent"`
}

// Metrics is one append-only performance snapshot for a cluster.
type Metrics struct {
	ID          int64     `json:"id"`
	ClusterID   int64     `json:"cluster_id"`
	Impressions int       `json:"impressions"`
	Clicks      int       `json:"clicks"`
	AvgPosition float64   `json:"avg_position"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// CTR returns the click-through rate as a percentage.
func (m Metrics) CTR() float64 {
	if m.Impressions <= 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions) * 100
}
