package entities

import (
	"time"

	"github.com/google/uuid"
)

// LifetimeRefill marks an account as entitled to a monthly token refill
type LifetimeRefill struct {
	AccountID     uuid.UUID `db:"account_id"`
	PackID        string    `db:"pack_id"`
	MonthlyTokens int64     `db:"monthly_tokens"`
	ActivatedAt   time.Time `db:"activated_at"`
	LastPeriod    *string   `db:"last_period"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// RefillPeriod formats the period label used to scope a monthly refill, e.g. "2026-10"
func RefillPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// IsDueFor reports whether the refill for period has not been recorded yet
func (r *LifetimeRefill) IsDueFor(period string) bool {
	return r.LastPeriod == nil || *r.LastPeriod < period
}
