package interfaces

import (
	"context"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/events"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account data access.
// Lookups return (nil, nil) when no row matches.
type AccountRepository interface {
	// Create inserts a new account row
	Create(ctx context.Context, account *entities.Account) error

	// GetByID retrieves an account by its ID without locking it
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Account, error)

	// GetByExternalUserID retrieves the account linked to an auth-system user
	GetByExternalUserID(ctx context.Context, externalUserID string) (*entities.Account, error)

	// GetByReferralCode resolves a referral code to its owning account
	GetByReferralCode(ctx context.Context, code string) (*entities.Account, error)

	// GetForUpdate retrieves an account and holds its row lock until the transaction ends
	GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Account, error)

	// GetForShare retrieves an account and blocks writers of its row until the transaction ends
	GetForShare(ctx context.Context, id uuid.UUID) (*entities.Account, error)

	// Update persists the mutable fields of an account. referred_by is only ever set from NULL.
	Update(ctx context.Context, account *entities.Account) error

	// ListDailyGrantCandidates pages through accounts whose last daily grant is before cutoff (or never)
	ListDailyGrantCandidates(ctx context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]*entities.Account, error)

	// ListPendingReferralBonuses returns referees whose linkage committed but whose bonus pair is incomplete
	ListPendingReferralBonuses(ctx context.Context, limit int) ([]*entities.Account, error)
}

// TransactionRepository defines the interface for the append-only ledger log
type TransactionRepository interface {
	// Append writes a transaction. A duplicate idempotency key yields entities.ErrAlreadyGranted and writes nothing.
	Append(ctx context.Context, tx *entities.Transaction) error

	// GetByIdempotencyKey returns the transaction recorded under key
	GetByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error)

	// ListByAccount returns the newest transactions for an account
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error)

	// SumByAccount totals the log per bucket
	SumByAccount(ctx context.Context, accountID uuid.UUID) (*entities.BucketTotals, error)

	// FindSpendByToolResult returns the spend recorded for a tool result, if any
	FindSpendByToolResult(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error)
}

// LifetimeRefillRepository defines the interface for recurring-refill markers
type LifetimeRefillRepository interface {
	// Upsert creates or replaces the marker for an account
	Upsert(ctx context.Context, refill *entities.LifetimeRefill) error

	// GetByAccount returns the marker for an account
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*entities.LifetimeRefill, error)

	// ListDue returns markers whose last refilled period is before period
	ListDue(ctx context.Context, period string, limit int) ([]*entities.LifetimeRefill, error)

	// MarkRefilled records that period has been refilled
	MarkRefilled(ctx context.Context, accountID uuid.UUID, period string) error
}

// Mutation computes the next state of an account from its freshly locked state.
// It must not perform I/O; returning an error aborts the unit with no writes.
type Mutation func(current *entities.Account) (*MutationResult, error)

// MutationResult is the outcome of a Mutation: the account's next state plus
// the transactions that explain the change.
type MutationResult struct {
	Account      *entities.Account
	Transactions []*entities.Transaction
}

// AtomicResult reports what ApplyAtomic committed to the unit of work
type AtomicResult struct {
	Before       *entities.Account
	After        *entities.Account
	Transactions []*entities.Transaction
}

// LedgerStore serializes all mutations of a single account
type LedgerStore interface {
	// ApplyAtomic locks the account, evaluates mutation against the locked row,
	// verifies the balance invariants and writes the new state with its transactions.
	ApplyAtomic(ctx context.Context, accountID uuid.UUID, mutation Mutation) (*AtomicResult, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(event events.Event) error
}

// TransactionalEventPublisher holds events until the surrounding transaction settles
type TransactionalEventPublisher interface {
	EventPublisher
	Flush(ctx context.Context) error
	Discard()
}
