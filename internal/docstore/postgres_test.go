package docstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	value := []byte(`{"role":"user","content":"hi","ts":1}`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO doc_lists (key, value) VALUES ($1, $2)")).
		WithArgs("stm:u1", value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, store.Append(context.Background(), "stm:u1", value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TailReturnsAppendOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)

	rows := pgxmock.NewRows([]string{"value"}).
		AddRow([]byte(`{"n":3}`)).
		AddRow([]byte(`{"n":2}`)).
		AddRow([]byte(`{"n":1}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM doc_lists WHERE key = $1 ORDER BY seq DESC LIMIT $2")).
		WithArgs("stm:u1", 3).
		WillReturnRows(rows)

	out, err := store.Tail(context.Background(), "stm:u1", 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, `{"n":1}`, string(out[0]))
	assert.Equal(t, `{"n":3}`, string(out[2]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Exists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM doc_lists WHERE key = $1)")).
		WithArgs("vec:u1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "vec:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Increment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO doc_counters (key, count, expires_at) VALUES ($1, 1, $2)")).
		WithArgs("rl:u1:0", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := store.Increment(context.Background(), "rl:u1:0", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementSweepsExpiredCounters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	store.sweep.every = 1
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO doc_counters (key, count, expires_at) VALUES ($1, 1, $2)")).
		WithArgs("rl:u1:60000", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM doc_counters WHERE expires_at IS NOT NULL AND expires_at <= now()")).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.Increment(context.Background(), "rl:u1:60000", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAcceptsNULBytes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	value := []byte(`{"content":"a\u0000b"}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO doc_lists (key, value) VALUES ($1, $2)")).
		WithArgs("stm:u1", value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), "stm:u1", value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ErrorsWrapUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO doc_lists")).
		WithArgs("stm:u1", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err = store.Append(context.Background(), "stm:u1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS doc_lists")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_doc_lists_key_seq")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS doc_counters")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
