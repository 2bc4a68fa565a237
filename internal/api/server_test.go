package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topicmesh/seo-engine/internal/cluster"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/keywords"
	"github.com/topicmesh/seo-engine/internal/lighthouse"
	"github.com/topicmesh/seo-engine/internal/logs"
)

type fakeQueue struct {
	jobs     map[int64]jobs.Job
	nextID   int64
	enqueued []string
	delays   []time.Duration
	err      error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[int64]jobs.Job{}, nextID: 1}
}

func (f *fakeQueue) Enqueue(_ context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	id := f.nextID
	f.nextID++
	f.jobs[id] = jobs.Job{ID: id, Type: jobType, EntityType: entityType, EntityID: entityID, Payload: payload, Status: jobs.StatusQueued}
	f.enqueued = append(f.enqueued, jobType)
	f.delays = append(f.delays, delay)
	return id, nil
}

func (f *fakeQueue) Get(_ context.Context, id int64) (jobs.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return job, nil
}

func (f *fakeQueue) List(_ context.Context, status jobs.Status, limit int) ([]jobs.Job, error) {
	out := []jobs.Job{}
	for _, job := range f.jobs {
		if status != "" && job.Status != status {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, job)
	}
	return out, nil
}

func (f *fakeQueue) CountByStatus(context.Context) (jobs.Counts, error) {
	counts := jobs.Counts{}
	for _, job := range f.jobs {
		switch job.Status {
		case jobs.StatusQueued:
			counts.Queued++
		case jobs.StatusRunning:
			counts.Running++
		case jobs.StatusSuccess:
			counts.Success++
		case jobs.StatusDead:
			counts.Dead++
		}
	}
	return counts, nil
}

type fakeRunner struct {
	processed int
	calls     int
	err       error
}

func (f *fakeRunner) RunOnce(context.Context) (int, error) {
	f.calls++
	return f.processed, f.err
}

type fakeKeywords struct {
	candidates []keywords.Candidate
	clusters   []keywords.Cluster
	status     string
	limit      int
}

func (f *fakeKeywords) ListCandidates(_ context.Context, status string, limit int) ([]keywords.Candidate, error) {
	f.status, f.limit = status, limit
	return f.candidates, nil
}

func (f *fakeKeywords) ListClusters(_ context.Context, limit int) ([]keywords.Cluster, error) {
	f.limit = limit
	return f.clusters, nil
}

type fakeClusters struct {
	clusters map[int64]cluster.Cluster
	nextID   int64
	added    []string
}

func newFakeClusters() *fakeClusters {
	return &fakeClusters{clusters: map[int64]cluster.Cluster{}, nextID: 1}
}

func (f *fakeClusters) List(_ context.Context, status string, limit, _ int) ([]cluster.Cluster, error) {
	out := []cluster.Cluster{}
	for _, c := range f.clusters {
		if status != "" && c.Status != status {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeClusters) Get(_ context.Context, id int64) (cluster.Cluster, error) {
	c, ok := f.clusters[id]
	if !ok {
		return cluster.Cluster{}, cluster.ErrNotFound
	}
	return c, nil
}

func (f *fakeClusters) Create(_ context.Context, name string) (cluster.Cluster, error) {
	c := cluster.Cluster{ID: f.nextID, Name: name, Status: cluster.StatusActive}
	f.clusters[f.nextID] = c
	f.nextID++
	return c, nil
}

func (f *fakeClusters) AddPage(_ context.Context, clusterID, pageID int64, role string) error {
	if _, ok := f.clusters[clusterID]; !ok {
		return cluster.ErrNotFound
	}
	f.added = append(f.added, fmt.Sprintf("%d:%d:%s", clusterID, pageID, role))
	return nil
}

type fakeAnalyzer struct {
	analysis cluster.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, clusterID int64) (cluster.Analysis, error) {
	if f.err != nil {
		return cluster.Analysis{}, f.err
	}
	f.analysis.Cluster.ID = clusterID
	return f.analysis, nil
}

type fakeScorer struct {
	score cluster.Score
	err   error
}

func (f *fakeScorer) Score(context.Context, int64) (cluster.Score, error) {
	return f.score, f.err
}

type fakeAdviser struct {
	advice cluster.Advice
	err    error
}

func (f *fakeAdviser) Advise(context.Context, int64) (cluster.Advice, error) {
	return f.advice, f.err
}

type fakeInjector struct {
	updated int
	err     error
}

func (f *fakeInjector) InjectMissingLinks(context.Context, int64) (int, error) {
	return f.updated, f.err
}

type fakeAudits struct {
	statuses []lighthouse.TargetStatus
	raw      []string
	strategy string
}

func (f *fakeAudits) ListWithLatest(_ context.Context, strategy string, _ int) ([]lighthouse.TargetStatus, error) {
	f.strategy = strategy
	return f.statuses, nil
}

func (f *fakeAudits) LatestRawResults(_ context.Context, strategy string) ([]string, error) {
	f.strategy = strategy
	return f.raw, nil
}

type fakeActivity struct {
	entries []logs.Entry
	level   string
}

func (f *fakeActivity) Latest(_ context.Context, level string, _ int) ([]logs.Entry, error) {
	f.level = level
	return f.entries, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	server   *Server
	queue    *fakeQueue
	runner   *fakeRunner
	keywords *fakeKeywords
	clusters *fakeClusters
	analyzer *fakeAnalyzer
	scorer   *fakeScorer
	adviser  *fakeAdviser
	injector *fakeInjector
	audits   *fakeAudits
	activity *fakeActivity
	pinger   *fakePinger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:    newFakeQueue(),
		runner:   &fakeRunner{},
		keywords: &fakeKeywords{},
		clusters: newFakeClusters(),
		analyzer: &fakeAnalyzer{},
		scorer:   &fakeScorer{},
		adviser:  &fakeAdviser{},
		injector: &fakeInjector{},
		audits:   &fakeAudits{},
		activity: &fakeActivity{},
		pinger:   &fakePinger{},
	}
	srv, err := NewServer(Params{
		Queue:    f.queue,
		Runner:   f.runner,
		Keywords: f.keywords,
		Clusters: f.clusters,
		Analyzer: f.analyzer,
		Scorer:   f.scorer,
		Adviser:  f.adviser,
		Injector: f.injector,
		Audits:   f.audits,
		Activity: f.activity,
		Pinger:   f.pinger,
	})
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerRequiresQueue(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Params{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestReadyzChecksDatabase(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.pinger.err = errors.New("connection refused")
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnqueueJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"type":          jobs.TypeHealthcheck,
		"payload":       map[string]any{"note": "manual"},
		"delay_seconds": 30,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["job_id"])
	require.Len(t, f.queue.delays, 1)
	assert.Equal(t, 30*time.Second, f.queue.delays[0])
}

func TestEnqueueJobRejectsMissingType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/jobs", map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.queue.enqueued)
}

func TestEnqueueJobRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, err := f.queue.Enqueue(context.Background(), jobs.TypeKeywordCycle, "", nil, nil, 0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobCounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.queue.Enqueue(context.Background(), jobs.TypeHealthcheck, "", nil, nil, 0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/jobs/counts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["queued"])
}

func TestRunQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.processed = 3
	rec := f.do(t, http.MethodPost, "/v1/jobs/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeBody(t, rec)["processed"])
	assert.Equal(t, 1, f.runner.calls)
}

func TestListCandidatesPassesFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.keywords.candidates = []keywords.Candidate{{ID: 1, Keyword: "espresso grinder"}}

	rec := f.do(t, http.MethodGet, "/v1/keywords/candidates?status=approved&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", f.keywords.status)
	assert.Equal(t, 10, f.keywords.limit)
	assert.Len(t, decodeBody(t, rec)["candidates"], 1)
}

func TestCreateAndGetCluster(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/clusters", map[string]string{"name": "Coffee Gear"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/clusters/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/clusters/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateClusterRequiresName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/clusters", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddClusterPageDefaultsRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.clusters.Create(context.Background(), "Coffee Gear")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/clusters/1/pages", map[string]any{"page_id": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.clusters.added, 1)
	assert.Equal(t, "1:7:support", f.clusters.added[0])
}

func TestAnalyzeClusterNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.analyzer.err = cluster.ErrNotFound
	rec := f.do(t, http.MethodGet, "/v1/clusters/9/analyze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoreCluster(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.scorer.score = cluster.Score{Score: 72, Grade: "B", Structural: 72}

	rec := f.do(t, http.MethodGet, "/v1/clusters/1/score", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 72, decodeBody(t, rec)["score"])
}

func TestInjectClusterLinks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.injector.updated = 4
	rec := f.do(t, http.MethodPost, "/v1/clusters/1/inject", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decodeBody(t, rec)["updated"])
}

func TestListAuditTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.audits.statuses = []lighthouse.TargetStatus{
		{Target: lighthouse.Target{ID: 1, URL: "https://site.test/a/"}},
	}

	rec := f.do(t, http.MethodGet, "/v1/lighthouse/targets?strategy=desktop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "desktop", f.audits.strategy)
	assert.Len(t, decodeBody(t, rec)["targets"], 1)
}

func TestListAuditIssues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.audits.raw = []string{
		`{"audits":{"render-blocking-resources":{"title":"Eliminate render-blocking resources","score":0.4}}}`,
	}

	rec := f.do(t, http.MethodGet, "/v1/lighthouse/issues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	issues, ok := decodeBody(t, rec)["issues"].([]any)
	require.True(t, ok)
	require.Len(t, issues, 1)
	first, ok := issues[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "render-blocking-resources", first["audit_id"])
}

func TestListActivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.activity.entries = []logs.Entry{{ID: 1, Level: "info", Message: "daily cycle complete"}}

	rec := f.do(t, http.MethodGet, "/v1/logs?level=info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "info", f.activity.level)
	assert.Len(t, decodeBody(t, rec)["logs"], 1)
}

func TestMissingDependencyReturns503(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Params{Queue: newFakeQueue()})
	require.NoError(t, err)

	for _, path := range []string{
		"/v1/keywords/candidates",
		"/v1/clusters",
		"/v1/lighthouse/targets",
		"/v1/lighthouse/issues",
		"/v1/logs",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestAdviseClusterError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.adviser.err = errors.New("boom")
	rec := f.do(t, http.MethodGet, "/v1/clusters/1/advise", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
