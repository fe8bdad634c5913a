package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS session_kv").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresStore(context.Background(), db, "console-1")
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStoreRequiresDB(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), nil, "")
	require.Error(t, err)
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT value FROM session_kv").
		WithArgs("console-1", "access_token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("A1"))
	value, ok, err := store.Get(ctx, "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A1", value)

	mock.ExpectQuery("SELECT value FROM session_kv").
		WithArgs("console-1", "user").
		WillReturnError(sql.ErrNoRows)
	_, ok, err = store.Get(ctx, "user")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetAndDelete(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO session_kv").
		WithArgs("console-1", "refresh_token", "R1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Set(ctx, "refresh_token", "R1"))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_kv").WithArgs("console-1", "access_token").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM session_kv").WithArgs("console-1", "refresh_token").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	require.NoError(t, store.Delete(ctx, "access_token", "refresh_token"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteRollsBackOnError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_kv").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	require.Error(t, store.Delete(context.Background(), "user"))

	require.NoError(t, mock.ExpectationsWereMet())
}
