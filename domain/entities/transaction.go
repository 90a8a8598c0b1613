package entities

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind identifies why a ledger row was written
type TransactionKind string

const (
	TransactionKindPurchase       TransactionKind = "purchase"
	TransactionKindLifetimeRefill TransactionKind = "lifetime_refill"
	TransactionKindDailyRefill    TransactionKind = "daily_refill"
	TransactionKindReferralBonus  TransactionKind = "referral_bonus"
	TransactionKindSpend          TransactionKind = "spend"
)

// IsGrant returns true for every credit-increasing kind
func (k TransactionKind) IsGrant() bool {
	switch k {
	case TransactionKindPurchase, TransactionKindLifetimeRefill, TransactionKindDailyRefill, TransactionKindReferralBonus:
		return true
	}
	return false
}

// IsValid reports whether k is a known kind
func (k TransactionKind) IsValid() bool {
	return k.IsGrant() || k == TransactionKindSpend
}

func (k TransactionKind) String() string {
	return string(k)
}

// Transaction is an immutable ledger row. Amount always equals DailyAmount + PurchasedAmount.
type Transaction struct {
	ID              int64           `db:"id"`
	AccountID       uuid.UUID       `db:"account_id"`
	Amount          int64           `db:"amount"`
	DailyAmount     int64           `db:"daily_amount"`
	PurchasedAmount int64           `db:"purchased_amount"`
	Kind            TransactionKind `db:"kind"`
	IdempotencyKey  *string         `db:"idempotency_key"`
	ToolID          *string         `db:"tool_id"`
	Metadata        map[string]any  `db:"metadata"`
	CreatedAt       time.Time       `db:"created_at"`
}

// NewGrantTransaction builds a purchased-bucket credit
func NewGrantTransaction(accountID uuid.UUID, kind TransactionKind, amount int64, idempotencyKey string) *Transaction {
	tx := &Transaction{
		AccountID:       accountID,
		Amount:          amount,
		PurchasedAmount: amount,
		Kind:            kind,
		Metadata:        map[string]any{},
	}
	if idempotencyKey != "" {
		tx.IdempotencyKey = &idempotencyKey
	}
	return tx
}

// BucketTotals are per-bucket sums over an account's transaction log
type BucketTotals struct {
	Purchased        int64
	Daily            int64
	TransactionCount int64
}

// Matches reports whether the totals derive the account's stored balances
func (t BucketTotals) Matches(a *Account) bool {
	return t.Purchased == a.PurchasedBalance && t.Daily == a.DailyBalance
}
