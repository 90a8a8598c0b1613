package entities

import "errors"

// Expected outcomes. Services translate these into result statuses; callers
// outside the domain layer never have to inspect them as failures.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyGranted      = errors.New("already granted")
	ErrAlreadyReferred     = errors.New("account already referred")
	ErrSelfReferral        = errors.New("cannot apply own referral code")
	ErrCodeNotFound        = errors.New("referral code not found")
)

// Caller errors
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrAccountNotFound       = errors.New("account not found")
	ErrUnknownPack           = errors.New("unknown pack")
	ErrNotReferred           = errors.New("account has no referrer")
	ErrNoLifetimeRefill      = errors.New("account has no lifetime refill")
)

// Storage conflicts surfaced by the account repository
var (
	ErrAccountExists     = errors.New("account already exists")
	ErrReferralCodeTaken = errors.New("referral code already taken")
)

// ErrStoreUnavailable is transient: the atomic unit did not complete and nothing was applied.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// ErrInvariantViolation means a computed balance would have gone negative. It always indicates a bug.
var ErrInvariantViolation = errors.New("ledger invariant violation")
