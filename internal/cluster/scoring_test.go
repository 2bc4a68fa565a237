package cluster

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicmesh/seo-engine/internal/locks"
)

type scoringFixture struct {
	linkingFixture
	scoring *ScoringEngine
	redis   *miniredis.Miniredis
}

func newScoringFixture(t *testing.T) scoringFixture {
	t.Helper()

	lf := newLinkingFixture(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	scoring, err := NewScoringEngine(lf.repo, lf.engine, locks.NewCache(client, "cluster"), time.Hour, nil)
	require.NoError(t, err)
	return scoringFixture{linkingFixture: lf, scoring: scoring, redis: mr}
}

func (f scoringFixture) addKeywords(clusterID int64, n int) {
	for i := 0; i < n; i++ {
		f.repo.keywords[clusterID] = append(f.repo.keywords[clusterID], Keyword{ClusterID: clusterID})
	}
}

func TestScoreStructuralOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newScoringFixture(t)
	f.buildCluster(t, 1, 3, "<p>no links</p>")
	f.addKeywords(1, 6)

	score, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)

	// pillar 20, supports (3) 10, linking 0 of 30 (all 6 links missing),
	// keywords (6) 20.
	assert.Equal(t, Breakdown{Pillar: 20, Supports: 10, Linking: 0, Keywords: 20}, score.Breakdown)
	assert.Equal(t, 50, score.Structural)
	assert.Equal(t, 50, score.Score)
	assert.Nil(t, score.Performance)
	assert.Equal(t, "D", score.Grade)
}

func TestScoreMissingPillarZerosPillarPoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newScoringFixture(t)
	f.repo.clusters[1] = Cluster{ID: 1, Name: "No Pillar", Slug: "no-pillar"}

	score, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, score.Breakdown.Pillar)
	assert.Equal(t, "F", score.Grade)
}

func TestScorePillarAddsExactlyTwenty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newScoringFixture(t)

	// Supports only, no pillar.
	f.repo.clusters[1] = Cluster{ID: 1, Name: "A", Slug: "a"}
	supportID, err := f.pages.Create(ctx, pagePublished("support-a", "Support A"))
	require.NoError(t, err)
	f.repo.memberships[1] = []Membership{{ID: 1, ClusterID: 1, PageID: supportID, Role: RoleSupport}}
	without, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)

	// Same shape plus a pillar. Content carries no links in both cases, so
	// linking points stay 0 on both sides (analysis error without a pillar,
	// both expected links missing with one).
	f.repo.clusters[2] = Cluster{ID: 2, Name: "B", Slug: "b"}
	pillarID, err := f.pages.Create(ctx, pagePublished("pillar-b", "Pillar B"))
	require.NoError(t, err)
	supportID2, err := f.pages.Create(ctx, pagePublished("support-b", "Support B"))
	require.NoError(t, err)
	f.repo.memberships[2] = []Membership{
		{ID: 2, ClusterID: 2, PageID: pillarID, Role: RolePillar},
		{ID: 3, ClusterID: 2, PageID: supportID2, Role: RoleSupport},
	}
	with, err := f.scoring.Score(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, without.Breakdown.Pillar+20, with.Breakdown.Pillar)
	assert.Equal(t, without.Score+20, with.Score)
}

func TestScorePerformanceBlend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newScoringFixture(t)
	f.buildCluster(t, 1, 3, "<p>no links</p>")
	f.addKeywords(1, 6)
	f.repo.metrics[1] = &Metrics{
		ClusterID: 1, Impressions: 12000, Clicks: 1300, AvgPosition: 2.4, RecordedAt: testNow,
	}

	score, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)

	// Performance: impressions 40 + ctr (10.8%) 30 + position 30 = 100.
	require.NotNil(t, score.Performance)
	assert.Equal(t, 100, *score.Performance)

	// final = round(50*0.7 + 100*0.3) = 65.
	assert.Equal(t, 50, score.Structural)
	assert.Equal(t, 65, score.Score)
	assert.Equal(t, "C", score.Grade)
}

func TestScoreCachedUntilInvalidated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newScoringFixture(t)
	f.buildCluster(t, 1, 1, "<p>no links</p>")

	first, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)

	// Structural change: cached result sticks until invalidation.
	f.addKeywords(1, 20)
	cached, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	f.scoring.Invalidate(ctx, 1)
	fresh, err := f.scoring.Score(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 30, fresh.Breakdown.Keywords)
	assert.NotEqual(t, first.Score, fresh.Score)
}

func TestSupportAndKeywordSteps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, supportPoints(0))
	assert.Equal(t, 5, supportPoints(1))
	assert.Equal(t, 10, supportPoints(2))
	assert.Equal(t, 15, supportPoints(4))
	assert.Equal(t, 20, supportPoints(7))
	assert.Equal(t, 20, supportPoints(12))

	assert.Equal(t, 0, keywordPoints(0))
	assert.Equal(t, 10, keywordPoints(1))
	assert.Equal(t, 20, keywordPoints(6))
	assert.Equal(t, 30, keywordPoints(16))
}

func TestGradeBoundaries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A", gradeFor(90))
	assert.Equal(t, "B", gradeFor(89))
	assert.Equal(t, "B", gradeFor(75))
	assert.Equal(t, "C", gradeFor(60))
	assert.Equal(t, "D", gradeFor(40))
	assert.Equal(t, "F", gradeFor(39))
}
