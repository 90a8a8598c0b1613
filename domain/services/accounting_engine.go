package services

import (
	"fmt"
	"time"

	"tokenledger/config"
	"tokenledger/domain/entities"
)

// AccountingEngine contains the pure balance rules of the ledger. It performs no I/O.
type AccountingEngine struct {
	policy config.LedgerPolicy
}

// NewAccountingEngine creates a new AccountingEngine
func NewAccountingEngine(policy config.LedgerPolicy) *AccountingEngine {
	return &AccountingEngine{policy: policy}
}

// Policy returns the policy the engine was built with
func (e *AccountingEngine) Policy() config.LedgerPolicy {
	return e.policy
}

// SpendPlan splits a debit across the two buckets
type SpendPlan struct {
	Amount         int64
	DailyDelta     int64
	PurchasedDelta int64
}

// ComputeSpend drains the daily bucket first and the purchased bucket for the rest
func (e *AccountingEngine) ComputeSpend(account *entities.Account, amount int64) (SpendPlan, error) {
	if amount <= 0 {
		return SpendPlan{}, entities.ErrInvalidAmount
	}
	if !account.CanAfford(amount) {
		return SpendPlan{}, fmt.Errorf("%w: have %d available, need %d", entities.ErrInsufficientBalance, account.TotalBalance(), amount)
	}

	daily := min(account.DailyBalance, amount)
	return SpendPlan{
		Amount:         amount,
		DailyDelta:     daily,
		PurchasedDelta: amount - daily,
	}, nil
}

// DailyGrantPlan is the outcome of an eligible daily grant
type DailyGrantPlan struct {
	Granted         int64
	NewDailyBalance int64
	GrantedAt       time.Time
}

// IsDailyGrantDue reports whether the rolling window since the last grant has elapsed
func (e *AccountingEngine) IsDailyGrantDue(account *entities.Account, now time.Time) bool {
	if account.LastDailyGrantAt == nil {
		return true
	}
	return now.Sub(*account.LastDailyGrantAt) >= e.policy.DailyGrantWindow
}

// NextDailyGrantAt returns when the account next becomes eligible
func (e *AccountingEngine) NextDailyGrantAt(account *entities.Account) *time.Time {
	if account.LastDailyGrantAt == nil {
		return nil
	}
	next := account.LastDailyGrantAt.Add(e.policy.DailyGrantWindow)
	return &next
}

// ComputeDailyGrant tops the daily bucket up by the grant amount without exceeding the cap.
// Excess is discarded. An account already at or above the cap is granted zero.
func (e *AccountingEngine) ComputeDailyGrant(account *entities.Account, now time.Time) (DailyGrantPlan, error) {
	if !e.IsDailyGrantDue(account, now) {
		return DailyGrantPlan{}, entities.ErrAlreadyGranted
	}

	newDaily := max(account.DailyBalance, min(account.DailyBalance+e.policy.DailyGrantAmount, e.policy.DailyCap))
	return DailyGrantPlan{
		Granted:         newDaily - account.DailyBalance,
		NewDailyBalance: newDaily,
		GrantedAt:       now,
	}, nil
}

// ReferralEligibility is the result of validating a referral application
type ReferralEligibility string

const (
	ReferralEligible        ReferralEligibility = "eligible"
	ReferralAlreadyReferred ReferralEligibility = "already_referred"
	ReferralSelfReferral    ReferralEligibility = "self_referral"
	ReferralCodeNotFound    ReferralEligibility = "code_not_found"
)

// Err maps a non-eligible result to its sentinel error
func (r ReferralEligibility) Err() error {
	switch r {
	case ReferralAlreadyReferred:
		return entities.ErrAlreadyReferred
	case ReferralSelfReferral:
		return entities.ErrSelfReferral
	case ReferralCodeNotFound:
		return entities.ErrCodeNotFound
	}
	return nil
}

// ValidateReferralApplication checks whether account may apply code. referrer is the
// account owning code, or nil when the code resolved to nothing.
func (e *AccountingEngine) ValidateReferralApplication(account *entities.Account, code string, referrer *entities.Account) ReferralEligibility {
	if account.ReferredBy != nil {
		return ReferralAlreadyReferred
	}
	normalized := NormalizeReferralCode(code)
	if normalized == account.ReferralCode || (referrer != nil && referrer.ID == account.ID) {
		return ReferralSelfReferral
	}
	if referrer == nil {
		return ReferralCodeNotFound
	}
	return ReferralEligible
}

// CheckInvariants verifies the bucket invariants of an account state about to be written
func (e *AccountingEngine) CheckInvariants(account *entities.Account) error {
	return account.CheckInvariants()
}

// ApplySpend returns the next account state and the spend transaction for plan
func (e *AccountingEngine) ApplySpend(account *entities.Account, plan SpendPlan, toolID, toolResultID string) (*entities.Account, *entities.Transaction) {
	next := account.Clone()
	next.DailyBalance -= plan.DailyDelta
	next.PurchasedBalance -= plan.PurchasedDelta

	tx := &entities.Transaction{
		AccountID:       account.ID,
		Amount:          -(plan.DailyDelta + plan.PurchasedDelta),
		DailyAmount:     -plan.DailyDelta,
		PurchasedAmount: -plan.PurchasedDelta,
		Kind:            entities.TransactionKindSpend,
		Metadata:        map[string]any{},
	}
	if toolID != "" {
		tx.ToolID = &toolID
	}
	if toolResultID != "" {
		tx.Metadata["tool_result_id"] = toolResultID
	}
	return next, tx
}

// ApplyDailyGrant returns the next account state and the daily_refill transaction for plan
func (e *AccountingEngine) ApplyDailyGrant(account *entities.Account, plan DailyGrantPlan) (*entities.Account, *entities.Transaction) {
	next := account.Clone()
	next.DailyBalance = plan.NewDailyBalance
	grantedAt := plan.GrantedAt
	next.LastDailyGrantAt = &grantedAt

	tx := &entities.Transaction{
		AccountID:   account.ID,
		Amount:      plan.Granted,
		DailyAmount: plan.Granted,
		Kind:        entities.TransactionKindDailyRefill,
		Metadata: map[string]any{
			"daily_before": account.DailyBalance,
			"daily_cap":    e.policy.DailyCap,
		},
	}
	return next, tx
}

// ApplyPurchasedGrant credits the purchased bucket. A zero amount is allowed so
// that a keyed grant can still be recorded when a bonus is configured to zero.
func (e *AccountingEngine) ApplyPurchasedGrant(account *entities.Account, kind entities.TransactionKind, amount int64, idempotencyKey string, metadata map[string]any) (*entities.Account, *entities.Transaction, error) {
	if amount < 0 {
		return nil, nil, entities.ErrInvalidAmount
	}
	if !kind.IsGrant() || kind == entities.TransactionKindDailyRefill {
		return nil, nil, fmt.Errorf("kind %s cannot credit the purchased bucket", kind)
	}

	next := account.Clone()
	next.PurchasedBalance += amount

	tx := entities.NewGrantTransaction(account.ID, kind, amount, idempotencyKey)
	for k, v := range metadata {
		tx.Metadata[k] = v
	}
	return next, tx, nil
}

// ApplySignupBalances credits the starting balances of a new account. The starting
// daily balance does not count as a daily grant, so LastDailyGrantAt stays unset.
func (e *AccountingEngine) ApplySignupBalances(account *entities.Account, signupKey string) (*entities.Account, []*entities.Transaction) {
	next := account.Clone()
	var txs []*entities.Transaction

	if purchased := e.policy.StartingPurchasedBalance; purchased > 0 {
		next.PurchasedBalance += purchased
		tx := entities.NewGrantTransaction(account.ID, entities.TransactionKindPurchase, purchased, signupKey)
		tx.Metadata["reason"] = "signup"
		txs = append(txs, tx)
	}
	if daily := e.policy.StartingDailyBalance; daily > 0 {
		next.DailyBalance += daily
		txs = append(txs, &entities.Transaction{
			AccountID:   account.ID,
			Amount:      daily,
			DailyAmount: daily,
			Kind:        entities.TransactionKindDailyRefill,
			Metadata:    map[string]any{"reason": "signup"},
		})
	}
	return next, txs
}
