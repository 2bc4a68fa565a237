package jobs

import (
	"context"
	"testing"
	"time"

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

	store, err := NewStoreWithPool(mock, 5*time.Minute, stubClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestEnqueueInsertsQueuedJob(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	entityID := int64(42)
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(TypeOptimizePost, "post", &entityID, []byte(`{"mode":"full"}`), StatusQueued, testNow, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.Enqueue(context.Background(), TypeOptimizePost, "post", &entityID, Payload{"mode": "full"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueAppliesDelay(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(TypeHealthcheck, "system", (*int64)(nil), []byte(`null`), StatusQueued, testNow.Add(time.Hour), testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := store.Enqueue(context.Background(), TypeHealthcheck, "system", nil, nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsEmptyType(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Enqueue(context.Background(), "", "system", nil, nil, 0)
	require.Error(t, err)
}

func TestClaimBatchMarksJobsRunning(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	cols := []string{
		"id", "type", "entity_type", "entity_id", "payload", "status", "attempts",
		"run_after", "locked_until", "last_error", "created_at", "updated_at",
	}
	lease := testNow.Add(5 * time.Minute)
	mock.ExpectQuery("UPDATE jobs SET status").
		WithArgs(StatusRunning, lease, testNow, StatusQueued, 2).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(1), TypeKeywordCycle, "system", (*int64)(nil), []byte(`{"mode":"import_only"}`),
				StatusRunning, 0, testNow, &lease, (*string)(nil), testNow, testNow).
			AddRow(int64(2), TypeHealthcheck, "system", (*int64)(nil), []byte(nil),
				StatusRunning, 1, testNow, &lease, (*string)(nil), testNow, testNow))

	claimed, err := store.ClaimBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, int64(1), claimed[0].ID)
	assert.Equal(t, ModeImportOnly, claimed[0].Payload.Mode())
	assert.Nil(t, claimed[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchZeroLimit(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	claimed, err := store.ClaimBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkSuccessClearsLease(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(StatusSuccess, testNow, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkSuccess(context.Background(), 9))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSuccessMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(StatusSuccess, testNow, int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkSuccess(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailedFloorsDelay(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(MaxAttempts, StatusDead, StatusQueued, testNow.Add(time.Minute), "provider timeout", testNow, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkFailed(context.Background(), 3, "provider timeout", time.Second))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 15*time.Minute, Backoff(0))
	assert.Equal(t, 15*time.Minute, Backoff(1))
	assert.Equal(t, time.Hour, Backoff(2))
	assert.Equal(t, 6*time.Hour, Backoff(3))
	assert.Equal(t, 12*time.Hour, Backoff(4))
	assert.Equal(t, 12*time.Hour, Backoff(10))
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow(StatusQueued, 3).
			AddRow(StatusDead, 1))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Queued: 3, Dead: 1}, counts)
}

func TestPendingScheduled(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(TypeKeywordCycle, StatusQueued, StatusRunning).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.PendingScheduled(context.Background(), TypeKeywordCycle)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPayloadHelpers(t *testing.T) {
	t.Parallel()

	p := Payload{"post_id": float64(12), "mode": "import_only", "url": "https://example.com/a"}
	id, ok := p.Int("post_id")
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
	assert.Equal(t, ModeImportOnly, p.Mode())
	assert.Equal(t, "https://example.com/a", p.String("url"))

	var empty Payload
	assert.Equal(t, ModeFull, empty.Mode())
	_, ok = empty.Int("post_id")
	assert.False(t, ok)
}
