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

// LifetimeRefillRepository implements the LifetimeRefillRepository interface
type LifetimeRefillRepository struct {
	q Queryable
}

// NewLifetimeRefillRepository creates a new lifetime refill repository
func NewLifetimeRefillRepository(db *database.DB) *LifetimeRefillRepository {
	return &LifetimeRefillRepository{q: db.Pool}
}

func newLifetimeRefillRepositoryWithTx(tx Queryable) *LifetimeRefillRepository {
	return &LifetimeRefillRepository{q: tx}
}

// Upsert creates the marker or replaces the pack on an existing one.
// The last refilled period is preserved so a repurchase does not double the month.
func (r *LifetimeRefillRepository) Upsert(ctx context.Context, refill *entities.LifetimeRefill) error {
	query := `
		INSERT INTO lifetime_refills (account_id, pack_id, monthly_tokens, activated_at, last_period)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE
		SET pack_id = EXCLUDED.pack_id,
			monthly_tokens = EXCLUDED.monthly_tokens,
			updated_at = NOW()
		RETURNING activated_at, last_period, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		refill.AccountID,
		refill.PackID,
		refill.MonthlyTokens,
		refill.ActivatedAt,
		refill.LastPeriod,
	).Scan(&refill.ActivatedAt, &refill.LastPeriod, &refill.UpdatedAt)
	if err != nil {
		return classifyError(fmt.Sprintf("failed to upsert lifetime refill for account %s", refill.AccountID), err)
	}
	return nil
}

// GetByAccount returns the marker for an account
func (r *LifetimeRefillRepository) GetByAccount(ctx context.Context, accountID uuid.UUID) (*entities.LifetimeRefill, error) {
	query := `
		SELECT account_id, pack_id, monthly_tokens, activated_at, last_period, updated_at
		FROM lifetime_refills
		WHERE account_id = $1
	`

	refill, err := scanLifetimeRefill(r.q.QueryRow(ctx, query, accountID))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to get lifetime refill for account %s", accountID), err)
	}
	return refill, nil
}

// ListDue returns markers not yet refilled for period. Periods are YYYY-MM so
// they compare correctly as text.
func (r *LifetimeRefillRepository) ListDue(ctx context.Context, period string, limit int) ([]*entities.LifetimeRefill, error) {
	query := `
		SELECT account_id, pack_id, monthly_tokens, activated_at, last_period, updated_at
		FROM lifetime_refills
		WHERE (last_period IS NULL OR last_period < $1)
		  AND to_char(activated_at AT TIME ZONE 'UTC', 'YYYY-MM') < $1
		ORDER BY account_id
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, period, limit)
	if err != nil {
		return nil, classifyError("failed to list due lifetime refills", err)
	}
	defer rows.Close()

	var refills []*entities.LifetimeRefill
	for rows.Next() {
		refill, err := scanLifetimeRefill(rows)
		if err != nil {
			return nil, classifyError("failed to scan lifetime refill", err)
		}
		refills = append(refills, refill)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate lifetime refills", err)
	}
	return refills, nil
}

// MarkRefilled records period as refilled. It never moves the marker backwards.
func (r *LifetimeRefillRepository) MarkRefilled(ctx context.Context, accountID uuid.UUID, period string) error {
	query := `
		UPDATE lifetime_refills
		SET last_period = $2, updated_at = NOW()
		WHERE account_id = $1
		  AND (last_period IS NULL OR last_period < $2)
	`

	if _, err := r.q.Exec(ctx, query, accountID, period); err != nil {
		return classifyError(fmt.Sprintf("failed to mark lifetime refill for account %s", accountID), err)
	}
	return nil
}

func scanLifetimeRefill(row pgx.Row) (*entities.LifetimeRefill, error) {
	var refill entities.LifetimeRefill
	err := row.Scan(
		&refill.AccountID,
		&refill.PackID,
		&refill.MonthlyTokens,
		&refill.ActivatedAt,
		&refill.LastPeriod,
		&refill.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refill, nil
}
