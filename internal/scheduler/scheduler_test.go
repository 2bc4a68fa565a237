package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
)

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeQueue struct {
	types    []string
	payloads []jobs.Payload
	pending  map[string]bool
}

func (f *fakeQueue) Enqueue(_ context.Context, jobType, _ string, _ *int64, payload jobs.Payload, _ time.Duration) (int64, error) {
	f.types = append(f.types, jobType)
	f.payloads = append(f.payloads, payload)
	return int64(len(f.types)), nil
}

func (f *fakeQueue) PendingScheduled(_ context.Context, jobType string) (bool, error) {
	return f.pending[jobType], nil
}

type fakeContent struct {
	enqueued []int64
}

func (f *fakeContent) EnqueueOnPublish(_ context.Context, pageID int64) error {
	f.enqueued = append(f.enqueued, pageID)
	return nil
}

type fakeAudits struct {
	calls int
}

func (f *fakeAudits) EnqueueWeeklyScans(context.Context) (int, error) {
	f.calls++
	return 6, nil
}

type fixture struct {
	scheduler *Scheduler
	queue     *fakeQueue
	pages     *pages.Memory
	content   *fakeContent
	audits    *fakeAudits
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:   &fakeQueue{pending: map[string]bool{}},
		pages:   pages.NewMemory(&stubClock{now: time.Unix(1700000000, 0).UTC()}),
		content: &fakeContent{},
		audits:  &fakeAudits{},
	}
	s, err := New(Params{
		Queue:   f.queue,
		Pages:   f.pages,
		Content: f.content,
		Audits:  f.audits,
	})
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func (f *fixture) publish(t *testing.T, slug string) int64 {
	t.Helper()
	id, err := f.pages.Create(context.Background(), pages.Page{
		Title:  slug,
		Slug:   slug,
		Status: pages.StatusPublished,
	})
	require.NoError(t, err)
	return id
}

func TestRunDailyEnqueuesSystemJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.scheduler.RunDaily(context.Background()))

	assert.Equal(t, []string{jobs.TypeHealthcheck, jobs.TypeKeywordCycle}, f.queue.types)
	assert.Equal(t, "daily tick", f.queue.payloads[0].String("note"))
	assert.Equal(t, "daily", f.queue.payloads[1].String("trigger"))
}

func TestRunDailySkipsPendingCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.queue.pending[jobs.TypeKeywordCycle] = true

	require.NoError(t, f.scheduler.RunDaily(context.Background()))
	assert.Equal(t, []string{jobs.TypeHealthcheck}, f.queue.types)
}

func TestRunWeeklyEnqueuesAuditsAndFansOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.scheduler.RunWeekly(context.Background()))

	assert.Equal(t, []string{jobs.TypeHealthcheck, jobs.TypePageSpeedCycle}, f.queue.types)
	assert.Equal(t, "weekly", f.queue.payloads[1].String("trigger"))
	assert.Equal(t, 1, f.audits.calls)
}

func TestPublishScanQueuesWeakPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	weak := f.publish(t, "weak-page")
	healthy := f.publish(t, "healthy-page")
	require.NoError(t, f.pages.SetMeta(ctx, healthy, pages.MetaHealthScore, "85"))
	optimized := f.publish(t, "optimized-page")
	require.NoError(t, f.pages.SetMeta(ctx, optimized, pages.MetaOptimizeDone, "done"))

	queued, err := f.scheduler.PublishScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Equal(t, []int64{weak}, f.content.enqueued)
}

func TestPublishScanAssumesWeakWithoutScore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.publish(t, "no-score")
	require.NoError(t, f.pages.SetMeta(ctx, id, pages.MetaHealthScore, "not-a-number"))

	queued, err := f.scheduler.PublishScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
}

func TestPublishScanHonorsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.scheduler.scanLimit = 2
	f.publish(t, "oldest")
	middle := f.publish(t, "middle")
	newest := f.publish(t, "newest")

	queued, err := f.scheduler.PublishScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.ElementsMatch(t, []int64{middle, newest}, f.content.enqueued)
}

func TestPublishScanIgnoresDrafts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pages.Create(ctx, pages.Page{Title: "Draft", Slug: "draft", Status: pages.StatusDraft})
	require.NoError(t, err)

	queued, err := f.scheduler.PublishScan(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Empty(t, f.content.enqueued)
}
