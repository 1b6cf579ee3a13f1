package base

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func TestWithinTxCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectExec("UPDATE appointments").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	repo := NewRepository(mock)
	tm := NewTxManager(mock, zap.NewNop())

	err = tm.WithinTx(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, TxFromContext(ctx))
		n, err := repo.ExecAffected(ctx, "UPDATE appointments SET status = 'attended'")
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewTxManager(mock, zap.NewNop()).WithinTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRetriesSerializationFailureOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectRollback()
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectCommit()

	calls := 0
	err = NewTxManager(mock, zap.NewNop()).WithinTx(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: CodeSerializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxGivesUpAfterSecondConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectRollback()
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectRollback()

	err = NewTxManager(mock, zap.NewNop()).WithinTx(context.Background(), func(ctx context.Context) error {
		return &pgconn.PgError{Code: CodeDeadlockDetected}
	})
	assert.True(t, IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxReusesOuterTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectCommit()

	tm := NewTxManager(mock, zap.NewNop())
	err = tm.WithinTx(context.Background(), func(ctx context.Context) error {
		outer := TxFromContext(ctx)
		return tm.WithinTx(ctx, func(inner context.Context) error {
			assert.Equal(t, outer, TxFromContext(inner))
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolation(t *testing.T) {
	name, ok := UniqueViolation(&pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "appointments_active_slot_uq"})
	assert.True(t, ok)
	assert.Equal(t, "appointments_active_slot_uq", name)

	_, ok = UniqueViolation(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsRetryable(errors.New("plain")))
}
