package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account holds the two spendable buckets of a single user
type Account struct {
	ID               uuid.UUID  `db:"id"`
	ExternalUserID   string     `db:"external_user_id"`
	PurchasedBalance int64      `db:"purchased_balance"`
	DailyBalance     int64      `db:"daily_balance"`
	LastDailyGrantAt *time.Time `db:"last_daily_grant_at"`
	ReferralCode     string     `db:"referral_code"`
	ReferredBy       *uuid.UUID `db:"referred_by"`
	ReferralCount    int64      `db:"referral_count"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// TotalBalance returns the spendable total across both buckets
func (a *Account) TotalBalance() int64 {
	return a.PurchasedBalance + a.DailyBalance
}

// CanAfford checks if the combined buckets cover an amount
func (a *Account) CanAfford(amount int64) bool {
	return a.TotalBalance() >= amount
}

// IsReferred reports whether the referral linkage has been committed
func (a *Account) IsReferred() bool {
	return a.ReferredBy != nil
}

// Balance returns a value snapshot of the account's buckets
func (a *Account) Balance() Balance {
	return Balance{
		AccountID: a.ID,
		Purchased: a.PurchasedBalance,
		Daily:     a.DailyBalance,
	}
}

// Clone returns a deep copy so mutations can be evaluated without touching the original
func (a *Account) Clone() *Account {
	c := *a
	if a.LastDailyGrantAt != nil {
		t := *a.LastDailyGrantAt
		c.LastDailyGrantAt = &t
	}
	if a.ReferredBy != nil {
		id := *a.ReferredBy
		c.ReferredBy = &id
	}
	return &c
}

// Balance is a confirmed, read-only view of an account's buckets
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Purchased int64     `json:"purchased_balance"`
	Daily     int64     `json:"daily_balance"`
}

// Total returns the combined spendable balance
func (b Balance) Total() int64 {
	return b.Purchased + b.Daily
}

// CheckInvariants verifies that no counter of the account has gone negative
func (a *Account) CheckInvariants() error {
	if a.PurchasedBalance < 0 {
		return fmt.Errorf("%w: purchased balance %d for account %s", ErrInvariantViolation, a.PurchasedBalance, a.ID)
	}
	if a.DailyBalance < 0 {
		return fmt.Errorf("%w: daily balance %d for account %s", ErrInvariantViolation, a.DailyBalance, a.ID)
	}
	if a.ReferralCount < 0 {
		return fmt.Errorf("%w: referral count %d for account %s", ErrInvariantViolation, a.ReferralCount, a.ID)
	}
	return nil
}
