package repository

import (
	"context"
	"errors"
	"fmt"

	"tokenledger/database"
	"tokenledger/domain/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	id,
	account_id,
	amount,
	daily_amount,
	purchased_amount,
	kind,
	idempotency_key,
	tool_id,
	metadata,
	created_at`

// TransactionRepository implements the append-only ledger log
type TransactionRepository struct {
	q Queryable
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{q: db.Pool}
}

// newTransactionRepositoryWithTx creates a new transaction repository bound to a transaction
func newTransactionRepositoryWithTx(tx Queryable) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

// Append writes a transaction and fills in its ID and timestamp.
// A keyed row whose key already exists is skipped without aborting the
// surrounding transaction and reported as entities.ErrAlreadyGranted.
func (r *TransactionRepository) Append(ctx context.Context, tx *entities.Transaction) error {
	if !tx.Kind.IsValid() {
		return fmt.Errorf("invalid transaction kind %q", tx.Kind)
	}

	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	query := `
		INSERT INTO ledger_transactions (
			account_id, amount, daily_amount, purchased_amount, kind, idempotency_key, tool_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		tx.AccountID,
		tx.Amount,
		tx.DailyAmount,
		tx.PurchasedAmount,
		string(tx.Kind),
		tx.IdempotencyKey,
		tx.ToolID,
		metadata,
	).Scan(&tx.ID, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", entities.ErrAlreadyGranted, *tx.IdempotencyKey)
	}
	if err != nil {
		return classifyError(fmt.Sprintf("failed to append %s transaction for account %s", tx.Kind, tx.AccountID), err)
	}

	return nil
}

// GetByIdempotencyKey returns the transaction recorded under key
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM ledger_transactions WHERE idempotency_key = $1`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, key))
	if err != nil {
		return nil, classifyError("failed to get transaction by idempotency key", err)
	}
	return tx, nil
}

// ListByAccount returns the newest transactions first
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM ledger_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to list transactions for account %s", accountID), err)
	}
	defer rows.Close()

	txs := make([]*entities.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, classifyError("failed to scan transaction", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate transactions", err)
	}
	return txs, nil
}

// SumByAccount totals the log per bucket
func (r *TransactionRepository) SumByAccount(ctx context.Context, accountID uuid.UUID) (*entities.BucketTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(purchased_amount), 0),
			COALESCE(SUM(daily_amount), 0),
			COUNT(*)
		FROM ledger_transactions
		WHERE account_id = $1
	`

	var totals entities.BucketTotals
	err := r.q.QueryRow(ctx, query, accountID).Scan(&totals.Purchased, &totals.Daily, &totals.TransactionCount)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to sum transactions for account %s", accountID), err)
	}
	return &totals, nil
}

// FindSpendByToolResult returns the spend annotated with toolResultID
func (r *TransactionRepository) FindSpendByToolResult(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM ledger_transactions
		WHERE account_id = $1
		  AND kind = 'spend'
		  AND metadata->>'tool_result_id' = $2
		ORDER BY id
		LIMIT 1
	`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, accountID, toolResultID))
	if err != nil {
		return nil, classifyError("failed to find spend by tool result", err)
	}
	return tx, nil
}

func scanTransaction(row pgx.Row) (*entities.Transaction, error) {
	var tx entities.Transaction
	var kind string
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.Amount,
		&tx.DailyAmount,
		&tx.PurchasedAmount,
		&kind,
		&tx.IdempotencyKey,
		&tx.ToolID,
		&tx.Metadata,
		&tx.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx.Kind = entities.TransactionKind(kind)
	return &tx, nil
}
