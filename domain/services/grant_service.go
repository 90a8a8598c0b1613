package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/config"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// grantService issues daily, purchase and lifetime grants
type grantService struct {
	uowFactory interfaces.UnitOfWorkFactory
	engine     *AccountingEngine
	packs      *config.PackCatalog
	now        func() time.Time
}

// NewGrantService creates a new grant service
func NewGrantService(uowFactory interfaces.UnitOfWorkFactory, engine *AccountingEngine, packs *config.PackCatalog) interfaces.GrantService {
	return &grantService{
		uowFactory: uowFactory,
		engine:     engine,
		packs:      packs,
		now:        time.Now,
	}
}

// AwardDaily grants the daily credit when the rolling window has elapsed.
// It is called on every session start, so the not-yet-due case is answered
// from a plain read without taking the row lock.
func (s *grantService) AwardDaily(ctx context.Context, accountID uuid.UUID) (*interfaces.DailyGrantResult, error) {
	now := s.now().UTC()

	var current *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		current, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !s.engine.IsDailyGrantDue(current, now) {
		return notAwarded(current), nil
	}

	var result *interfaces.AtomicResult
	var plan DailyGrantPlan
	err = runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		result, err = uow.LedgerStore().ApplyAtomic(ctx, accountID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			// Re-evaluated under the lock: a concurrent session may have granted first
			p, err := s.engine.ComputeDailyGrant(locked, now)
			if err != nil {
				return nil, err
			}
			plan = p
			next, tx := s.engine.ApplyDailyGrant(locked, p)
			return &interfaces.MutationResult{Account: next, Transactions: []*entities.Transaction{tx}}, nil
		})
		if err != nil {
			return err
		}

		publishBalanceChange(uow.EventBus(), result)
		return nil
	})

	if errors.Is(err, entities.ErrAlreadyGranted) {
		log.WithField("accountID", accountID).Debug("Daily grant raced with another session")
		return s.currentDaily(ctx, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to award daily grant: %w", err)
	}

	log.WithFields(log.Fields{
		"accountID":    accountID,
		"granted":      plan.Granted,
		"dailyBalance": result.After.DailyBalance,
	}).Info("Daily grant awarded")

	return &interfaces.DailyGrantResult{
		Awarded:          true,
		Granted:          plan.Granted,
		DailyBalance:     result.After.DailyBalance,
		PurchasedBalance: result.After.PurchasedBalance,
	}, nil
}

func (s *grantService) currentDaily(ctx context.Context, accountID uuid.UUID) (*interfaces.DailyGrantResult, error) {
	var account *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		account, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return notAwarded(account), nil
}

func notAwarded(account *entities.Account) *interfaces.DailyGrantResult {
	return &interfaces.DailyGrantResult{
		Awarded:          false,
		DailyBalance:     account.DailyBalance,
		PurchasedBalance: account.PurchasedBalance,
	}
}

// GrantFromPurchase credits a completed purchase exactly once per idempotency key.
// For a pack in the catalog the catalog amount is credited, whatever the
// webhook reported.
func (s *grantService) GrantFromPurchase(ctx context.Context, grant interfaces.PurchaseGrant) (*interfaces.PurchaseGrantResult, error) {
	if grant.IdempotencyKey == "" {
		return nil, entities.ErrMissingIdempotencyKey
	}
	if grant.TokenAmount <= 0 {
		return nil, entities.ErrInvalidAmount
	}

	metadata := map[string]any{"pack_id": grant.PackID}
	amount := grant.TokenAmount

	pack, known := s.packs.Lookup(grant.PackID)
	switch {
	case !known:
		// The payment already happened, so an unlisted pack still credits the paid amount
		log.WithFields(log.Fields{
			"accountID": grant.AccountID,
			"packID":    grant.PackID,
		}).Warn("Purchase references a pack missing from the catalog")
	case amount != pack.Tokens:
		log.WithFields(log.Fields{
			"accountID":      grant.AccountID,
			"packID":         pack.ID,
			"reportedAmount": amount,
			"catalogAmount":  pack.Tokens,
		}).Warn("Purchase amount differs from the pack catalog, crediting catalog amount")
		metadata["reported_amount"] = amount
		amount = pack.Tokens
	}

	var afterGrant func(ctx context.Context, uow interfaces.UnitOfWork) error
	if known && pack.Lifetime {
		afterGrant = func(ctx context.Context, uow interfaces.UnitOfWork) error {
			refill := &entities.LifetimeRefill{
				AccountID:     grant.AccountID,
				PackID:        pack.ID,
				MonthlyTokens: pack.MonthlyTokens,
				ActivatedAt:   s.now().UTC(),
			}
			if err := uow.LifetimeRefillRepository().Upsert(ctx, refill); err != nil {
				return fmt.Errorf("failed to set lifetime refill marker: %w", err)
			}
			return nil
		}
	}

	return s.grantKeyed(ctx, grant.AccountID, entities.TransactionKindPurchase, amount, grant.IdempotencyKey, metadata, afterGrant)
}

// GrantLifetimeRefill issues the monthly refill of a lifetime pack for period (YYYY-MM).
// The period-scoped key makes repeated runs for the same month harmless.
func (s *grantService) GrantLifetimeRefill(ctx context.Context, accountID uuid.UUID, period string) (*interfaces.PurchaseGrantResult, error) {
	var refill *entities.LifetimeRefill
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		refill, err = uow.LifetimeRefillRepository().GetByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lifetime refill for account %s: %w", accountID, err)
	}
	if refill == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrNoLifetimeRefill, accountID)
	}

	metadata := map[string]any{
		"pack_id": refill.PackID,
		"period":  period,
	}
	markRefilled := func(ctx context.Context, uow interfaces.UnitOfWork) error {
		if err := uow.LifetimeRefillRepository().MarkRefilled(ctx, accountID, period); err != nil {
			return fmt.Errorf("failed to mark lifetime refill period: %w", err)
		}
		return nil
	}

	return s.grantKeyed(ctx, accountID, entities.TransactionKindLifetimeRefill, refill.MonthlyTokens, LifetimeRefillKey(accountID, period), metadata, markRefilled)
}

// grantKeyed credits the purchased bucket under an idempotency key. afterGrant,
// when set, runs in the same unit of work whether or not the key was new.
func (s *grantService) grantKeyed(
	ctx context.Context,
	accountID uuid.UUID,
	kind entities.TransactionKind,
	amount int64,
	key string,
	metadata map[string]any,
	afterGrant func(ctx context.Context, uow interfaces.UnitOfWork) error,
) (*interfaces.PurchaseGrantResult, error) {
	// Retried webhooks are the common duplicate, answer them without locking the account
	var existing *entities.Transaction
	var current *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		if existing, err = uow.TransactionRepository().GetByIdempotencyKey(ctx, key); err != nil {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}
		current, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if existing != nil && afterGrant == nil {
		logDuplicateGrant(existing, accountID, key)
		return &interfaces.PurchaseGrantResult{Status: interfaces.GrantStatusAlreadyGranted, Balance: current.Balance()}, nil
	}

	status := interfaces.GrantStatusGranted
	var result *interfaces.AtomicResult
	err = runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		result, err = uow.LedgerStore().ApplyAtomic(ctx, accountID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			next, tx, err := s.engine.ApplyPurchasedGrant(locked, kind, amount, key, metadata)
			if err != nil {
				return nil, err
			}
			return &interfaces.MutationResult{Account: next, Transactions: []*entities.Transaction{tx}}, nil
		})
		switch {
		case errors.Is(err, entities.ErrAlreadyGranted):
			status = interfaces.GrantStatusAlreadyGranted
		case err != nil:
			return err
		default:
			publishBalanceChange(uow.EventBus(), result)
			if err := uow.EventBus().Publish(events.GrantIssuedEvent{
				AccountID:      accountID,
				Kind:           kind,
				Amount:         amount,
				IdempotencyKey: key,
			}); err != nil {
				log.WithError(err).Error("Failed to publish grant issued event")
			}
		}

		if afterGrant != nil {
			return afterGrant(ctx, uow)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant %s: %w", kind, err)
	}

	if status == interfaces.GrantStatusAlreadyGranted {
		log.WithFields(log.Fields{
			"accountID":      accountID,
			"idempotencyKey": key,
		}).Info("Grant already applied")
		return &interfaces.PurchaseGrantResult{Status: status, Balance: current.Balance()}, nil
	}

	log.WithFields(log.Fields{
		"accountID":        accountID,
		"kind":             kind,
		"amount":           amount,
		"idempotencyKey":   key,
		"purchasedBalance": result.After.PurchasedBalance,
	}).Info("Grant applied")

	return &interfaces.PurchaseGrantResult{Status: status, Balance: result.After.Balance()}, nil
}

func logDuplicateGrant(existing *entities.Transaction, accountID uuid.UUID, key string) {
	fields := log.Fields{
		"accountID":      accountID,
		"idempotencyKey": key,
		"transactionID":  existing.ID,
	}
	if existing.AccountID != accountID {
		// Same payment session reported for a different account
		fields["recordedAccountID"] = existing.AccountID
		log.WithFields(fields).Warn("Idempotency key already used by another account")
		return
	}
	log.WithFields(fields).Info("Grant already applied")
}
