package interfaces

import (
	"context"

	"tokenledger/domain/entities"

	"github.com/google/uuid"
)

// AccountService defines the interface for account lifecycle and reads
type AccountService interface {
	// CreateAccount creates the account for an external user, or returns the existing one
	CreateAccount(ctx context.Context, externalUserID string) (*entities.Account, error)

	// GetAccount returns an account by ID (entities.ErrAccountNotFound when missing)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*entities.Account, error)

	// GetBalance returns the confirmed bucket balances
	GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error)

	// ListTransactions returns the newest ledger rows for an account
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error)

	// VerifyLedger recomputes balances from the log and compares them with the stored row
	VerifyLedger(ctx context.Context, accountID uuid.UUID) (*LedgerAudit, error)
}

// LedgerAudit is the outcome of a derivability check
type LedgerAudit struct {
	Account *entities.Account
	Totals  entities.BucketTotals
	Matches bool
}

// GrantStatus is the terminal outcome of a grant attempt
type GrantStatus string

const (
	GrantStatusGranted        GrantStatus = "granted"
	GrantStatusAlreadyGranted GrantStatus = "already_granted"
)

// DailyGrantResult is returned by AwardDaily
type DailyGrantResult struct {
	Awarded          bool
	Granted          int64
	DailyBalance     int64
	PurchasedBalance int64
}

// PurchaseGrant carries a payment-driven grant request
type PurchaseGrant struct {
	AccountID      uuid.UUID
	PackID         string
	IdempotencyKey string // Payment processor session identifier
	TokenAmount    int64
}

// PurchaseGrantResult is returned by purchase and lifetime grants
type PurchaseGrantResult struct {
	Status  GrantStatus
	Balance entities.Balance
}

// GrantService defines the interface for credit-increasing operations
type GrantService interface {
	AwardDaily(ctx context.Context, accountID uuid.UUID) (*DailyGrantResult, error)
	GrantFromPurchase(ctx context.Context, grant PurchaseGrant) (*PurchaseGrantResult, error)
	GrantLifetimeRefill(ctx context.Context, accountID uuid.UUID, period string) (*PurchaseGrantResult, error)
}

// ReferralStatus is the terminal outcome of ApplyReferral
type ReferralStatus string

const (
	ReferralStatusApplied         ReferralStatus = "applied"
	ReferralStatusAlreadyReferred ReferralStatus = "already_referred"
	ReferralStatusSelfReferral    ReferralStatus = "self_referral"
	ReferralStatusInvalidCode     ReferralStatus = "invalid_code"
)

// ReferralResult is returned by ApplyReferral
type ReferralResult struct {
	Status       ReferralStatus
	ReferrerID   uuid.UUID
	BonusPending bool // Linkage committed but the bonus step has not completed yet
}

// ReferralBonusResult reports each side of the bonus pair
type ReferralBonusResult struct {
	ReferrerID     uuid.UUID
	RefereeID      uuid.UUID
	ReferrerStatus GrantStatus
	RefereeStatus  GrantStatus
}

// ReferralService defines the interface for referral linkage and bonuses
type ReferralService interface {
	ApplyReferral(ctx context.Context, accountID uuid.UUID, code string) (*ReferralResult, error)
	CreditReferralBonus(ctx context.Context, refereeID uuid.UUID) (*ReferralBonusResult, error)
}

// SpendStatus is the terminal outcome of a spend
type SpendStatus string

const (
	SpendStatusSpent               SpendStatus = "spent"
	SpendStatusInsufficientBalance SpendStatus = "insufficient_balance"
)

// SpendRequest is a debit requested by the tool invocation pipeline
type SpendRequest struct {
	AccountID    uuid.UUID
	Amount       int64
	ToolID       string
	ToolResultID string // Audit annotation only
}

// SpendResult is returned by Spend
type SpendResult struct {
	Status         SpendStatus
	DailyDelta     int64
	PurchasedDelta int64
	Balance        entities.Balance
	TransactionID  int64
}

// SpendCoordinator defines the interface for debits
type SpendCoordinator interface {
	// PreCheck reports whether the account can currently cover amount. It never mutates.
	PreCheck(ctx context.Context, accountID uuid.UUID, amount int64) (bool, entities.Balance, error)

	// Spend debits the account, draining the daily bucket first
	Spend(ctx context.Context, req SpendRequest) (*SpendResult, error)

	// FindSpend looks up the spend recorded for a tool result, for reconciling ambiguous failures
	FindSpend(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error)
}
