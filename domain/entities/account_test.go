package entities

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAccount_CanAfford(t *testing.T) {
	a := &Account{PurchasedBalance: 10, DailyBalance: 4}

	assert.Equal(t, int64(14), a.TotalBalance())
	assert.True(t, a.CanAfford(14))
	assert.False(t, a.CanAfford(15))
}

func TestAccount_Clone(t *testing.T) {
	now := time.Now()
	referrer := uuid.New()
	a := &Account{ID: uuid.New(), LastDailyGrantAt: &now, ReferredBy: &referrer}

	c := a.Clone()
	later := now.Add(time.Hour)
	*c.LastDailyGrantAt = later
	*c.ReferredBy = uuid.New()

	assert.Equal(t, now, *a.LastDailyGrantAt)
	assert.Equal(t, referrer, *a.ReferredBy)
	assert.True(t, a.IsReferred())
}

func TestTransactionKind(t *testing.T) {
	tests := []struct {
		kind    TransactionKind
		isGrant bool
	}{
		{TransactionKindPurchase, true},
		{TransactionKindLifetimeRefill, true},
		{TransactionKindDailyRefill, true},
		{TransactionKindReferralBonus, true},
		{TransactionKindSpend, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.isGrant, tt.kind.IsGrant())
			assert.True(t, tt.kind.IsValid())
		})
	}

	assert.False(t, TransactionKind("refund").IsValid())
}

func TestBucketTotals_Matches(t *testing.T) {
	a := &Account{PurchasedBalance: 7, DailyBalance: 2}

	assert.True(t, BucketTotals{Purchased: 7, Daily: 2}.Matches(a))
	assert.False(t, BucketTotals{Purchased: 9, Daily: 0}.Matches(a))
}

func TestLifetimeRefill_IsDueFor(t *testing.T) {
	r := &LifetimeRefill{}
	assert.True(t, r.IsDueFor("2026-10"))

	last := "2026-10"
	r.LastPeriod = &last
	assert.False(t, r.IsDueFor("2026-10"))
	assert.True(t, r.IsDueFor("2026-11"))
	assert.Equal(t, "2026-10", RefillPeriod(time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)))
}
