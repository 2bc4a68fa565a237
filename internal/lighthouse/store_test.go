package lighthouse

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time {
	return c.now
}

var testNow = time.Unix(1700000000, 0).UTC()

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, stubClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func targetRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "url", "page_id", "type", "last_scanned_mobile", "last_scanned_desktop", "created_at"})
}

func TestEnsureTarget(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO lighthouse_targets").
		WithArgs("https://site.test/live-cams/", int64(12), "page", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.EnsureTarget(context.Background(), "https://site.test/live-cams/", 12, "page")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTargetRequiresURL(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	err := store.EnsureTarget(context.Background(), "", 12, "page")
	assert.Error(t, err)
}

func TestGetTarget(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	pageID := int64(12)

	mock.ExpectQuery("FROM lighthouse_targets WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(targetRows().AddRow(int64(3), "https://site.test/live-cams/", &pageID, "page", nil, nil, testNow))

	target, err := store.GetTarget(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/live-cams/", target.URL)
	require.NotNil(t, target.PageID)
	assert.Equal(t, int64(12), *target.PageID)
	assert.Nil(t, target.LastScannedMobile)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("FROM lighthouse_targets WHERE id").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTarget(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTargetsDefaultsLimit(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("FROM lighthouse_targets ORDER BY id ASC").
		WithArgs(100).
		WillReturnRows(targetRows().
			AddRow(int64(1), "https://site.test/a/", nil, "page", nil, nil, testNow).
			AddRow(int64(2), "https://site.test/b/", nil, "page", nil, nil, testNow))

	targets, err := store.ListTargets(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, int64(1), targets[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRunStampsScanTime(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	perf := 87.0

	mock.ExpectQuery("INSERT INTO lighthouse_runs").
		WithArgs(int64(3), StrategyDesktop, "12.0.0", &perf, (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), `{"audits":{}}`, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(55)))
	mock.ExpectExec("UPDATE lighthouse_targets SET last_scanned_desktop").
		WithArgs(testNow, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := store.InsertRun(context.Background(), Run{
		TargetID:          3,
		Strategy:          StrategyDesktop,
		LighthouseVersion: "12.0.0",
		PerformanceScore:  &perf,
		RawJSON:           `{"audits":{}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRunNormalizesStrategy(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO lighthouse_runs").
		WithArgs(int64(3), StrategyMobile, "", (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), "{}", testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(56)))
	mock.ExpectExec("UPDATE lighthouse_targets SET last_scanned_mobile").
		WithArgs(testNow, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err := store.InsertRun(context.Background(), Run{TargetID: 3, Strategy: "tablet", RawJSON: "{}"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithLatest(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	perf := 91.0
	seo := 100.0
	runAt := testNow.Add(-time.Hour)
	version := "12.0.0"
	runID := int64(9)
	strategy := StrategyMobile

	cols := []string{
		"id", "url", "page_id", "type", "last_scanned_mobile", "last_scanned_desktop", "created_at",
		"r_id", "r_strategy", "r_version", "r_perf", "r_seo", "r_lcp", "r_cls", "r_inp", "r_created_at",
	}
	mock.ExpectQuery("LEFT JOIN LATERAL").
		WithArgs(StrategyMobile, 50).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "https://site.test/b/", nil, "page", &runAt, nil, testNow,
				&runID, &strategy, &version, &perf, &seo, nil, nil, nil, &runAt).
			AddRow(int64(1), "https://site.test/a/", nil, "page", nil, nil, testNow,
				nil, nil, nil, nil, nil, nil, nil, nil, nil))

	statuses, err := store.ListWithLatest(context.Background(), "mobile", 50)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	require.NotNil(t, statuses[0].Latest)
	assert.Equal(t, int64(9), statuses[0].Latest.ID)
	assert.Equal(t, int64(2), statuses[0].Latest.TargetID)
	assert.Equal(t, 91.0, *statuses[0].Latest.PerformanceScore)
	assert.Nil(t, statuses[1].Latest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRawResults(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT DISTINCT ON \\(target_id\\) raw_json").
		WithArgs(StrategyMobile).
		WillReturnRows(pgxmock.NewRows([]string{"raw_json"}).
			AddRow(`{"audits":{"x":{"score":0.5}}}`).
			AddRow(`{"audits":{}}`))

	payloads, err := store.LatestRawResults(context.Background(), "mobile")
	require.NoError(t, err)
	assert.Len(t, payloads, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
