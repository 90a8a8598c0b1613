package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/database"
	"tokenledger/domain/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `
	id,
	external_user_id,
	purchased_balance,
	daily_balance,
	last_daily_grant_at,
	referral_code,
	referred_by,
	referral_count,
	created_at,
	updated_at`

// AccountRepository implements the AccountRepository interface
type AccountRepository struct {
	q Queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

// newAccountRepositoryWithTx creates a new account repository bound to a transaction
func newAccountRepositoryWithTx(tx Queryable) *AccountRepository {
	return &AccountRepository{q: tx}
}

// Create inserts a new account row with the balances it carries
func (r *AccountRepository) Create(ctx context.Context, account *entities.Account) error {
	query := `
		INSERT INTO accounts (id, external_user_id, purchased_balance, daily_balance, referral_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		account.ID,
		account.ExternalUserID,
		account.PurchasedBalance,
		account.DailyBalance,
		account.ReferralCode,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return classifyError(fmt.Sprintf("failed to create account for %s", account.ExternalUserID), err)
	}

	return nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to get account %s", id), err)
	}
	return account, nil
}

// GetByExternalUserID retrieves the account linked to an auth-system user
func (r *AccountRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*entities.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE external_user_id = $1`

	account, err := scanAccount(r.q.QueryRow(ctx, query, externalUserID))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to get account for external user %s", externalUserID), err)
	}
	return account, nil
}

// GetByReferralCode resolves a normalized referral code
func (r *AccountRepository) GetByReferralCode(ctx context.Context, code string) (*entities.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE referral_code = $1`

	account, err := scanAccount(r.q.QueryRow(ctx, query, code))
	if err != nil {
		return nil, classifyError("failed to resolve referral code", err)
	}
	return account, nil
}

// GetForUpdate retrieves an account and locks its row until the transaction ends.
// The wait is bounded by the transaction's lock_timeout.
func (r *AccountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to lock account %s", id), err)
	}
	return account, nil
}

// GetForShare retrieves an account under a shared row lock. Concurrent
// ApplyAtomic calls on the same account wait until the transaction ends.
func (r *AccountRepository) GetForShare(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1 FOR SHARE`

	account, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("failed to share-lock account %s", id), err)
	}
	return account, nil
}

// Update persists balances, grant timestamp, referral linkage and referral count.
// referred_by can only move from NULL to a value.
func (r *AccountRepository) Update(ctx context.Context, account *entities.Account) error {
	query := `
		UPDATE accounts
		SET purchased_balance = $2,
			daily_balance = $3,
			last_daily_grant_at = $4,
			referred_by = COALESCE(referred_by, $5),
			referral_count = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		account.ID,
		account.PurchasedBalance,
		account.DailyBalance,
		account.LastDailyGrantAt,
		account.ReferredBy,
		account.ReferralCount,
	).Scan(&account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", entities.ErrAccountNotFound, account.ID)
	}
	if err != nil {
		return classifyError(fmt.Sprintf("failed to update account %s", account.ID), err)
	}

	return nil
}

// ListDailyGrantCandidates pages by ID through accounts that have never been
// granted or were last granted before cutoff
func (r *AccountRepository) ListDailyGrantCandidates(ctx context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]*entities.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts
		WHERE (last_daily_grant_at IS NULL OR last_daily_grant_at <= $1)
		  AND id > $2
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, cutoff, after, limit)
	if err != nil {
		return nil, classifyError("failed to list daily grant candidates", err)
	}
	return collectAccounts(rows)
}

// ListPendingReferralBonuses returns referees whose bonus pair has not been fully recorded.
// The keys mirror services.ReferralBonusKey.
func (r *AccountRepository) ListPendingReferralBonuses(ctx context.Context, limit int) ([]*entities.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a
		WHERE a.referred_by IS NOT NULL
		  AND (
			NOT EXISTS (
				SELECT 1 FROM ledger_transactions t
				WHERE t.idempotency_key = 'referral:' || a.referred_by::text || ':' || a.id::text || ':referrer'
			)
			OR NOT EXISTS (
				SELECT 1 FROM ledger_transactions t
				WHERE t.idempotency_key = 'referral:' || a.referred_by::text || ':' || a.id::text || ':referee'
			)
		  )
		ORDER BY a.updated_at
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, classifyError("failed to list pending referral bonuses", err)
	}
	return collectAccounts(rows)
}

func scanAccount(row pgx.Row) (*entities.Account, error) {
	var a entities.Account
	err := row.Scan(
		&a.ID,
		&a.ExternalUserID,
		&a.PurchasedBalance,
		&a.DailyBalance,
		&a.LastDailyGrantAt,
		&a.ReferralCode,
		&a.ReferredBy,
		&a.ReferralCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]*entities.Account, error) {
	defer rows.Close()

	var accounts []*entities.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, classifyError("failed to scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate accounts", err)
	}
	return accounts, nil
}
