package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/locks"
)

const defaultScoreTTL = time.Hour

// Breakdown itemizes the structural score components.
type Breakdown struct {
	Pillar   int `json:"pillar"`
	Supports int `json:"supports"`
	Linking  int `json:"linking"`
	Keywords int `json:"keywords"`
}

// Score is a cluster's structural health score with an optional performance
// blend when a metrics snapshot exists.
type Score struct {
	Score       int       `json:"score"`
	Grade       string    `json:"grade"`
	Structural  int       `json:"structural"`
	Performance *int      `json:"performance,omitempty"`
	Breakdown   Breakdown `json:"breakdown"`
}

// ScoringEngine computes and caches cluster scores.
type ScoringEngine struct {
	repo    Repository
	linking *LinkingEngine
	cache   *locks.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewScoringEngine wires up a scoring engine. A nil cache disables caching.
func NewScoringEngine(repo Repository, linking *LinkingEngine, cache *locks.Cache, ttl time.Duration, logger *zap.Logger) (*ScoringEngine, error) {
	if repo == nil || linking == nil {
		return nil, fmt.Errorf("repo and linking engine are required")
	}
	if ttl <= 0 {
		ttl = defaultScoreTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoringEngine{repo: repo, linking: linking, cache: cache, ttl: ttl, logger: logger}, nil
}

func scoreCacheKey(clusterID int64) string {
	return fmt.Sprintf("cluster_score:%d", clusterID)
}

// Score returns a cluster's score, from cache when fresh.
func (e *ScoringEngine) Score(ctx context.Context, clusterID int64) (Score, error) {
	if e.cache != nil {
		if val, hit, err := e.cache.Get(ctx, scoreCacheKey(clusterID)); err == nil && hit {
			var cached Score
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached, nil
			}
		}
	}

	score, err := e.compute(ctx, clusterID)
	if err != nil {
		return Score{}, err
	}

	if e.cache != nil {
		if body, err := json.Marshal(score); err == nil {
			if err := e.cache.Set(ctx, scoreCacheKey(clusterID), string(body), e.ttl); err != nil {
				e.logger.Warn("score cache write failed", zap.Int64("cluster_id", clusterID), zap.Error(err))
			}
		}
	}
	return score, nil
}

// Invalidate drops a cluster's cached score, typically after its pages,
// links, or metrics change.
func (e *ScoringEngine) Invalidate(ctx context.Context, clusterID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, scoreCacheKey(clusterID)); err != nil {
		e.logger.Warn("score cache invalidation failed", zap.Int64("cluster_id", clusterID), zap.Error(err))
	}
}

func (e *ScoringEngine) compute(ctx context.Context, clusterID int64) (Score, error) {
	analysis, err := e.linking.Analyze(ctx, clusterID)
	if err != nil {
		return Score{}, err
	}
	keywords, err := e.repo.Keywords(ctx, clusterID)
	if err != nil {
		return Score{}, fmt.Errorf("load cluster keywords: %w", err)
	}

	breakdown := Breakdown{
		Pillar:   pillarPoints(analysis),
		Supports: supportPoints(len(analysis.Supports)),
		Linking:  linkingPoints(analysis),
		Keywords: keywordPoints(len(keywords)),
	}
	structural := breakdown.Pillar + breakdown.Supports + breakdown.Linking + breakdown.Keywords

	score := Score{Structural: structural, Score: structural, Breakdown: breakdown}

	metrics, err := e.repo.LatestMetrics(ctx, clusterID)
	if err != nil {
		return Score{}, fmt.Errorf("load cluster metrics: %w", err)
	}
	if metrics != nil {
		perf := performancePoints(*metrics)
		score.Performance = &perf
		score.Score = int(math.Round(float64(structural)*0.7 + float64(perf)*0.3))
	}

	score.Grade = gradeFor(score.Score)
	return score, nil
}

func pillarPoints(a Analysis) int {
	if a.Pillar != nil && a.Err == "" {
		return 20
	}
	return 0
}

func supportPoints(n int) int {
	switch {
	case n >= 7:
		return 20
	case n >= 4:
		return 15
	case n >= 2:
		return 10
	case n >= 1:
		return 5
	default:
		return 0
	}
}

func linkingPoints(a Analysis) int {
	if a.Err != "" || len(a.Supports) == 0 {
		return 0
	}
	return int(math.Round(a.Completeness() * 30))
}

func keywordPoints(n int) int {
	switch {
	case n >= 16:
		return 30
	case n >= 6:
		return 20
	case n >= 1:
		return 10
	default:
		return 0
	}
}

func performancePoints(m Metrics) int {
	points := 0

	switch {
	case m.Impressions >= 10000:
		points += 40
	case m.Impressions >= 5000:
		points += 30
	case m.Impressions >= 1000:
		points += 20
	case m.Impressions >= 100:
		points += 10
	}

	switch ctr := m.CTR(); {
	case ctr >= 10:
		points += 30
	case ctr >= 5:
		points += 20
	case ctr >= 2:
		points += 10
	}

	switch pos := m.AvgPosition; {
	case pos <= 0:
	case pos <= 3:
		points += 30
	case pos <= 10:
		points += 20
	case pos <= 20:
		points += 10
	}

	return points
}

func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}
