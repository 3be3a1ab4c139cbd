package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/niyusum/luminescence-sub000/internal/resilience"
)

func newTestDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return &DB{
		sql:     mockDB,
		cfg:     DefaultConfig("mock"),
		breaker: resilience.New(resilience.DefaultConfig()),
	}, mock
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE players").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		_, execErr := db.Querier(ctx).ExecContext(ctx, "UPDATE players SET lumees = 1")
		return execErr
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerierUsesTxWhenPresent(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	require.NotNil(t, TxFromContext(ctx))
	require.Same(t, TxFromContext(ctx), db.Querier(ctx))
	require.NoError(t, db.CommitTx(ctx))
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: pqUniqueViolation}
	require.True(t, IsUniqueViolation(err))
	require.False(t, IsUniqueViolation(errors.New("other")))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&pq.Error{Code: pqDeadlockDetected}))
	require.True(t, IsRetryable(&pq.Error{Code: pqSerializationFail}))
	require.False(t, IsRetryable(&pq.Error{Code: pqUniqueViolation}))
}
