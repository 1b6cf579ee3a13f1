package base

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type txKey struct{}

// WithTx stores tx in ctx so repositories pick it up through Conn
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction opened by TxManager, or nil
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// TxManager runs units of work inside a single database transaction.
// Serialization failures and deadlocks are retried once.
type TxManager struct {
	db     DB
	logger *zap.Logger
	opts   pgx.TxOptions
}

func NewTxManager(db DB, logger *zap.Logger) *TxManager {
	return &TxManager{
		db:     db,
		logger: logger,
		opts:   pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
}

// WithinTx runs fn in a transaction; a nested call reuses the outer one
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	err := m.run(ctx, fn)
	if err != nil && IsRetryable(err) {
		m.logger.Warn("Transaction conflict, retrying once", zap.Error(err))
		err = m.run(ctx, fn)
	}
	return err
}

func (m *TxManager) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
