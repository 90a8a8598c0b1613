package services

import (
	"context"
	"errors"
	"fmt"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTransactionListLimit = 50
	maxTransactionListLimit     = 500

	referralCodeAttempts = 5
)

// accountService creates accounts and serves confirmed reads
type accountService struct {
	uowFactory interfaces.UnitOfWorkFactory
	engine     *AccountingEngine
}

// NewAccountService creates a new account service
func NewAccountService(uowFactory interfaces.UnitOfWorkFactory, engine *AccountingEngine) interfaces.AccountService {
	return &accountService{
		uowFactory: uowFactory,
		engine:     engine,
	}
}

// CreateAccount creates the ledger account for an external user with the
// starting balances applied, or returns the account that already exists.
func (s *accountService) CreateAccount(ctx context.Context, externalUserID string) (*entities.Account, error) {
	if externalUserID == "" {
		return nil, fmt.Errorf("external user id is required")
	}

	existing, err := s.findByExternalUserID(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 1; attempt <= referralCodeAttempts; attempt++ {
		account, err := s.createOnce(ctx, externalUserID)
		switch {
		case err == nil:
			return account, nil
		case errors.Is(err, entities.ErrReferralCodeTaken):
			log.WithField("attempt", attempt).Debug("Referral code collision, regenerating")
			continue
		case errors.Is(err, entities.ErrAccountExists):
			// Lost a race with a concurrent signup for the same user
			existing, ferr := s.findByExternalUserID(ctx, externalUserID)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
			return nil, err
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to allocate a unique referral code after %d attempts", referralCodeAttempts)
}

func (s *accountService) createOnce(ctx context.Context, externalUserID string) (*entities.Account, error) {
	code, err := GenerateReferralCode()
	if err != nil {
		return nil, err
	}

	account := &entities.Account{
		ID:             uuid.New(),
		ExternalUserID: externalUserID,
		ReferralCode:   code,
	}

	var result *interfaces.AtomicResult
	err = runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		if err := uow.AccountRepository().Create(ctx, account); err != nil {
			return err
		}

		var err error
		result, err = uow.LedgerStore().ApplyAtomic(ctx, account.ID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			next, txs := s.engine.ApplySignupBalances(locked, SignupGrantKey(locked.ID))
			return &interfaces.MutationResult{Account: next, Transactions: txs}, nil
		})
		if err != nil {
			return fmt.Errorf("failed to apply starting balances: %w", err)
		}

		if err := uow.EventBus().Publish(events.AccountCreatedEvent{
			AccountID:        account.ID,
			ExternalUserID:   externalUserID,
			ReferralCode:     code,
			PurchasedBalance: result.After.PurchasedBalance,
			DailyBalance:     result.After.DailyBalance,
		}); err != nil {
			log.WithError(err).Error("Failed to publish account created event")
		}
		publishBalanceChange(uow.EventBus(), result)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"accountID":        account.ID,
		"externalUserID":   externalUserID,
		"purchasedBalance": result.After.PurchasedBalance,
		"dailyBalance":     result.After.DailyBalance,
	}).Info("Account created")

	return result.After, nil
}

func (s *accountService) findByExternalUserID(ctx context.Context, externalUserID string) (*entities.Account, error) {
	var account *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		account, err = uow.AccountRepository().GetByExternalUserID(ctx, externalUserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up external user %s: %w", externalUserID, err)
	}
	return account, nil
}

// GetAccount returns an account by ID
func (s *accountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*entities.Account, error) {
	var account *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		account, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetBalance returns the confirmed bucket balances
func (s *accountService) GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return entities.Balance{}, err
	}
	return account.Balance(), nil
}

// ListTransactions returns the newest ledger rows for an account
func (s *accountService) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionListLimit
	}
	limit = min(limit, maxTransactionListLimit)

	var txs []*entities.Transaction
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		if _, err := loadAccount(ctx, uow, accountID); err != nil {
			return err
		}
		var err error
		txs, err = uow.TransactionRepository().ListByAccount(ctx, accountID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// VerifyLedger recomputes both buckets from the transaction log and compares
// them with the stored balances. The account row is share-locked first so no
// mutation can commit between reading the balances and summing the log.
func (s *accountService) VerifyLedger(ctx context.Context, accountID uuid.UUID) (*interfaces.LedgerAudit, error) {
	audit := &interfaces.LedgerAudit{}
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		account, err := uow.AccountRepository().GetForShare(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to lock account %s: %w", accountID, err)
		}
		if account == nil {
			return fmt.Errorf("%w: %s", entities.ErrAccountNotFound, accountID)
		}
		totals, err := uow.TransactionRepository().SumByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		audit.Account = account
		audit.Totals = *totals
		audit.Matches = totals.Matches(account)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify ledger: %w", err)
	}

	if !audit.Matches {
		log.WithFields(log.Fields{
			"accountID":       accountID,
			"storedPurchased": audit.Account.PurchasedBalance,
			"storedDaily":     audit.Account.DailyBalance,
			"logPurchased":    audit.Totals.Purchased,
			"logDaily":        audit.Totals.Daily,
		}).Error("Ledger balances do not match the transaction log")
	}
	return audit, nil
}
