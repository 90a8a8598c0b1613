package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"tokenledger/database"
	"tokenledger/domain/entities"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var codeSeq atomic.Int64

// NewTestAccount builds an unsaved account with a unique external user and referral code
func NewTestAccount() *entities.Account {
	n := codeSeq.Add(1)
	return &entities.Account{
		ID:             uuid.New(),
		ExternalUserID: fmt.Sprintf("test|user-%d-%s", n, uuid.NewString()[:8]),
		ReferralCode:   fmt.Sprintf("T%07d", n),
	}
}

// InsertAccount persists an account with the given opening balances. The
// balances are written directly, so the log only derives them when both are zero.
func InsertAccount(t *testing.T, db *database.DB, purchased, daily int64) *entities.Account {
	t.Helper()

	account := NewTestAccount()
	account.PurchasedBalance = purchased
	account.DailyBalance = daily

	err := db.QueryRow(context.Background(), `
		INSERT INTO accounts (id, external_user_id, purchased_balance, daily_balance, referral_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, account.ID, account.ExternalUserID, purchased, daily, account.ReferralCode).Scan(&account.CreatedAt, &account.UpdatedAt)
	require.NoError(t, err)

	return account
}
