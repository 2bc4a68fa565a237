package lighthouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
)

func TestRunHealthCycleStoresScores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEngineFixture(t)
	pageID := f.publishPage(t, "Live Cams", "live-cams")
	_, err := f.pages.Create(ctx, pages.Page{Title: "Draft", Slug: "draft", Status: pages.StatusDraft})
	require.NoError(t, err)

	job := jobs.Job{ID: 1, Type: jobs.TypePageSpeedCycle, Payload: jobs.Payload{"trigger": "weekly"}}
	require.NoError(t, f.engine.RunHealthCycle(ctx, job))

	// sampleResult carries performance 0.82 and seo 1.0, blending to 91.
	score, err := f.pages.GetMeta(ctx, pageID, pages.MetaHealthScore)
	require.NoError(t, err)
	assert.Equal(t, "91", score)

	assert.Equal(t, []string{"https://site.test/live-cams/"}, f.auditor.urls)
	assert.Equal(t, []string{StrategyMobile}, f.auditor.strategies)
}

func TestRunHealthCycleSurvivesProviderFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEngineFixture(t)
	pageID := f.publishPage(t, "Live Cams", "live-cams")
	f.auditor.err = assert.AnError

	require.NoError(t, f.engine.RunHealthCycle(ctx, jobs.Job{ID: 1}))

	score, err := f.pages.GetMeta(ctx, pageID, pages.MetaHealthScore)
	require.NoError(t, err)
	assert.Empty(t, score)
}

func TestRunHealthCycleSkipsScorelessResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEngineFixture(t)
	pageID := f.publishPage(t, "Live Cams", "live-cams")
	f.auditor.result = &pagespeed.LighthouseResult{LighthouseVersion: "12.0.0"}

	require.NoError(t, f.engine.RunHealthCycle(ctx, jobs.Job{ID: 1}))

	score, err := f.pages.GetMeta(ctx, pageID, pages.MetaHealthScore)
	require.NoError(t, err)
	assert.Empty(t, score)
}

func TestRunHealthCycleHonorsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newEngineFixture(t)
	f.engine.targetLimit = 1
	f.publishPage(t, "First", "first")
	f.publishPage(t, "Second", "second")

	require.NoError(t, f.engine.RunHealthCycle(ctx, jobs.Job{ID: 1}))
	assert.Len(t, f.auditor.urls, 1)
}
