package services

import (
	"context"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// runInUnitOfWork executes fn inside a fresh unit of work and commits it.
// The unit is detached from the caller's cancellation so a started mutation
// always runs to completion or clean failure, bounded by timeout.
func runInUnitOfWork(ctx context.Context, factory interfaces.UnitOfWorkFactory, timeout time.Duration, fn func(ctx context.Context, uow interfaces.UnitOfWork) error) error {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	uow := factory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(ctx, uow); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readInUnitOfWork runs a read-only fn and always rolls the unit back
func readInUnitOfWork(ctx context.Context, factory interfaces.UnitOfWorkFactory, fn func(ctx context.Context, uow interfaces.UnitOfWork) error) error {
	uow := factory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return fn(ctx, uow)
}

// loadAccount reads an account, translating a missing row into ErrAccountNotFound
func loadAccount(ctx context.Context, uow interfaces.UnitOfWork, accountID uuid.UUID) (*entities.Account, error) {
	account, err := uow.AccountRepository().GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrAccountNotFound, accountID)
	}
	return account, nil
}

// publishBalanceChange emits a BalanceChangedEvent for every transaction of a committed atomic result.
// Events stay pending in the unit of work until commit.
func publishBalanceChange(publisher interfaces.EventPublisher, result *interfaces.AtomicResult) {
	if result == nil || result.Before == nil || result.After == nil {
		return
	}

	for _, tx := range result.Transactions {
		event := events.BalanceChangedEvent{
			AccountID:    result.After.ID,
			Kind:         tx.Kind,
			Amount:       tx.Amount,
			OldPurchased: result.Before.PurchasedBalance,
			NewPurchased: result.After.PurchasedBalance,
			OldDaily:     result.Before.DailyBalance,
			NewDaily:     result.After.DailyBalance,
		}
		log.WithFields(log.Fields{
			"accountID":    event.AccountID,
			"kind":         event.Kind,
			"amount":       event.Amount,
			"newPurchased": event.NewPurchased,
			"newDaily":     event.NewDaily,
		}).Debug("Publishing BalanceChangedEvent")

		if err := publisher.Publish(event); err != nil {
			log.WithError(err).Error("Failed to publish balance changed event")
		}
	}
}

// Idempotency key formats. Keys are globally unique across the transaction log.

// SignupGrantKey scopes the starting balance grant to one account
func SignupGrantKey(accountID uuid.UUID) string {
	return fmt.Sprintf("signup:%s", accountID)
}

// LifetimeRefillKey scopes a lifetime refill to one account and period
func LifetimeRefillKey(accountID uuid.UUID, period string) string {
	return fmt.Sprintf("lifetime:%s:%s", accountID, period)
}

// Sides of a referral bonus pair
const (
	ReferralSideReferrer = "referrer"
	ReferralSideReferee  = "referee"
)

// ReferralBonusKey scopes one side of a referral bonus to the (referrer, referee) pair
func ReferralBonusKey(referrerID, refereeID uuid.UUID, side string) string {
	return fmt.Sprintf("referral:%s:%s:%s", referrerID, refereeID, side)
}
