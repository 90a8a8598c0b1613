package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/infrastructure/observability"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// LedgerStore applies account mutations under the account's row lock.
// It must run inside a transaction: the lock, the appended rows and the
// account update all commit or roll back together.
type LedgerStore struct {
	accounts     *AccountRepository
	transactions *TransactionRepository
}

func newLedgerStore(accounts *AccountRepository, transactions *TransactionRepository) *LedgerStore {
	return &LedgerStore{
		accounts:     accounts,
		transactions: transactions,
	}
}

// ApplyAtomic locks the account, evaluates mutation on a copy of the locked
// state, verifies the result and writes the transactions followed by the new
// account row. Errors returned by mutation are passed through unchanged.
func (s *LedgerStore) ApplyAtomic(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
	start := time.Now()
	defer observability.GetMetrics().MeasureDatabaseQuery("ledger_store", "ApplyAtomic")()

	result, err := s.apply(ctx, accountID, mutation)
	observability.GetMetrics().RecordLedgerUnit(unitOutcome(err), time.Since(start))
	return result, err
}

func (s *LedgerStore) apply(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
	locked, err := s.accounts.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if locked == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrAccountNotFound, accountID)
	}

	out, err := mutation(locked.Clone())
	if err != nil {
		return nil, err
	}
	if out == nil || out.Account == nil {
		return nil, fmt.Errorf("mutation for account %s produced no account state", accountID)
	}

	if err := verifyMutation(locked, out); err != nil {
		log.WithFields(log.Fields{
			"accountID":        accountID,
			"purchasedBefore":  locked.PurchasedBalance,
			"dailyBefore":      locked.DailyBalance,
			"purchasedAfter":   out.Account.PurchasedBalance,
			"dailyAfter":       out.Account.DailyBalance,
			"transactionCount": len(out.Transactions),
			"error":            err,
		}).Error("Rejected ledger mutation that breaks balance invariants")
		return nil, err
	}

	for i, tx := range out.Transactions {
		tx.AccountID = accountID
		if err := s.transactions.Append(ctx, tx); err != nil {
			if i > 0 && errors.Is(err, entities.ErrAlreadyGranted) {
				// Earlier rows are already in the transaction, the unit has to roll back
				return nil, fmt.Errorf("duplicate key after %d appended transactions for account %s: %v", i, accountID, err)
			}
			return nil, err
		}
	}

	if err := s.accounts.Update(ctx, out.Account); err != nil {
		return nil, err
	}

	return &interfaces.AtomicResult{
		Before:       locked,
		After:        out.Account,
		Transactions: out.Transactions,
	}, nil
}

// verifyMutation checks that the next state is valid on its own and that the
// transactions account for every token of change in each bucket
func verifyMutation(before *entities.Account, out *interfaces.MutationResult) error {
	after := out.Account
	if after.ID != before.ID {
		return fmt.Errorf("%w: mutation changed account id %s to %s", entities.ErrInvariantViolation, before.ID, after.ID)
	}
	if err := after.CheckInvariants(); err != nil {
		return err
	}
	if before.ReferredBy != nil && (after.ReferredBy == nil || *after.ReferredBy != *before.ReferredBy) {
		return fmt.Errorf("%w: referral linkage of account %s cannot change", entities.ErrInvariantViolation, before.ID)
	}

	var purchased, daily int64
	for _, tx := range out.Transactions {
		if tx.Amount != tx.DailyAmount+tx.PurchasedAmount {
			return fmt.Errorf("%w: transaction amount %d does not split into %d daily and %d purchased",
				entities.ErrInvariantViolation, tx.Amount, tx.DailyAmount, tx.PurchasedAmount)
		}
		if tx.Kind.IsGrant() && tx.Amount < 0 {
			return fmt.Errorf("%w: %s transaction with negative amount %d", entities.ErrInvariantViolation, tx.Kind, tx.Amount)
		}
		if tx.Kind == entities.TransactionKindSpend && tx.Amount >= 0 {
			return fmt.Errorf("%w: spend transaction with non-negative amount %d", entities.ErrInvariantViolation, tx.Amount)
		}
		purchased += tx.PurchasedAmount
		daily += tx.DailyAmount
	}

	if after.PurchasedBalance-before.PurchasedBalance != purchased || after.DailyBalance-before.DailyBalance != daily {
		return fmt.Errorf("%w: balance change for account %s is not explained by its transactions", entities.ErrInvariantViolation, before.ID)
	}
	return nil
}

func unitOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeApplied
	case errors.Is(err, entities.ErrStoreUnavailable):
		return observability.OutcomeUnavailable
	case errors.Is(err, entities.ErrInvariantViolation):
		return observability.OutcomeViolation
	default:
		return observability.OutcomeRejected
	}
}
