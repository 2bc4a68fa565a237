package lighthouse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicmesh/seo-engine/internal/services/pagespeed"
)

func rawResult(t *testing.T, audits map[string]pagespeed.Audit) string {
	t.Helper()
	raw, err := json.Marshal(pagespeed.LighthouseResult{Audits: audits})
	require.NoError(t, err)
	return string(raw)
}

func TestSystemicIssuesAggregatesAcrossTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()

	first := rawResult(t, map[string]pagespeed.Audit{
		"render-blocking-resources": {Title: "Eliminate render-blocking resources", Score: floatPtr(0.4)},
		"uses-optimized-images":     {Title: "Efficiently encode images", Score: floatPtr(0.7)},
		"viewport":                  {Title: "Has a viewport meta tag", Score: floatPtr(1.0)},
		"final-screenshot":          {Title: "Final Screenshot"},
	})
	second := rawResult(t, map[string]pagespeed.Audit{
		"render-blocking-resources": {Title: "Eliminate render-blocking resources", Score: floatPtr(0.2)},
	})

	_, err := repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyMobile, RawJSON: first})
	require.NoError(t, err)
	_, err = repo.InsertRun(ctx, Run{TargetID: 2, Strategy: StrategyMobile, RawJSON: second})
	require.NoError(t, err)

	issues, err := SystemicIssues(ctx, repo, "mobile")
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, "render-blocking-resources", issues[0].AuditID)
	assert.Equal(t, 2, issues[0].Frequency)
	assert.Equal(t, "Eliminate render-blocking resources", issues[0].Title)
	assert.Equal(t, "uses-optimized-images", issues[1].AuditID)
	assert.Equal(t, 1, issues[1].Frequency)
}

func TestSystemicIssuesUsesOnlyLatestRunPerTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()

	old := rawResult(t, map[string]pagespeed.Audit{
		"render-blocking-resources": {Score: floatPtr(0.3)},
	})
	fixed := rawResult(t, map[string]pagespeed.Audit{
		"render-blocking-resources": {Score: floatPtr(1.0)},
	})

	_, err := repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyMobile, RawJSON: old})
	require.NoError(t, err)
	_, err = repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyMobile, RawJSON: fixed})
	require.NoError(t, err)

	issues, err := SystemicIssues(ctx, repo, "mobile")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSystemicIssuesIgnoresOtherStrategies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()

	failing := rawResult(t, map[string]pagespeed.Audit{
		"render-blocking-resources": {Score: floatPtr(0.3)},
	})
	_, err := repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyDesktop, RawJSON: failing})
	require.NoError(t, err)

	issues, err := SystemicIssues(ctx, repo, "mobile")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSystemicIssuesSkipsMalformedPayloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()

	_, err := repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyMobile, RawJSON: "not json"})
	require.NoError(t, err)
	failing := rawResult(t, map[string]pagespeed.Audit{
		"viewport": {Score: floatPtr(0)},
	})
	_, err = repo.InsertRun(ctx, Run{TargetID: 2, Strategy: StrategyMobile, RawJSON: failing})
	require.NoError(t, err)

	issues, err := SystemicIssues(ctx, repo, "mobile")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "viewport", issues[0].AuditID)
	assert.Equal(t, "viewport", issues[0].Title)
}

func TestSystemicIssuesTieBreaksByAuditID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()

	failing := rawResult(t, map[string]pagespeed.Audit{
		"b-audit": {Score: floatPtr(0.5)},
		"a-audit": {Score: floatPtr(0.5)},
	})
	_, err := repo.InsertRun(ctx, Run{TargetID: 1, Strategy: StrategyMobile, RawJSON: failing})
	require.NoError(t, err)

	issues, err := SystemicIssues(ctx, repo, "mobile")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "a-audit", issues[0].AuditID)
	assert.Equal(t, "b-audit", issues[1].AuditID)
}
