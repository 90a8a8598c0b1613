package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// BeginLedgerTx starts a read-committed transaction whose row lock waits are
// bounded by lockTimeout. A zero timeout leaves the server default in place.
func (db *DB) BeginLedgerTx(ctx context.Context, lockTimeout time.Duration) (pgx.Tx, error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if lockTimeout > 0 {
		// set_config with is_local=true scopes the timeout to this transaction
		ms := fmt.Sprintf("%dms", lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	return tx, nil
}

// WithTransaction executes fn within a ledger transaction.
// If fn returns an error the transaction is rolled back, otherwise it is committed.
func (db *DB) WithTransaction(ctx context.Context, lockTimeout time.Duration, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.BeginLedgerTx(ctx, lockTimeout)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
