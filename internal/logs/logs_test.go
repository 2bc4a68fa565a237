package logs

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

	store, err := NewStoreWithPool(mock, stubClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestAddInsertsEntry(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO activity_logs").
		WithArgs(LevelInfo, "keywords", "discovery cycle complete", []byte(`{"imported":42}`), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Add(context.Background(), LevelInfo, "keywords", "discovery cycle complete", map[string]any{"imported": 42})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddWithoutData(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO activity_logs").
		WithArgs(LevelError, "queue", "job dead-lettered", []byte(nil), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Add(context.Background(), LevelError, "queue", "job dead-lettered", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestFiltersByLevel(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	cols := []string{"id", "level", "context", "message", "data", "created_at"}
	mock.ExpectQuery("SELECT id, level, context, message, data, created_at FROM activity_logs WHERE level").
		WithArgs(LevelWarning, 10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), LevelWarning, "clusters", "pillar missing", []byte(`{"cluster_id":7}`), testNow))

	entries, err := store.Latest(context.Background(), LevelWarning, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pillar missing", entries[0].Message)
	assert.Equal(t, float64(7), entries[0].Data["cluster_id"])
}
