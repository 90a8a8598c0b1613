package services

import (
	"context"
	"errors"
	"fmt"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// spendCoordinator debits accounts on behalf of the tool invocation pipeline
type spendCoordinator struct {
	uowFactory interfaces.UnitOfWorkFactory
	engine     *AccountingEngine
}

// NewSpendCoordinator creates a new spend coordinator
func NewSpendCoordinator(uowFactory interfaces.UnitOfWorkFactory, engine *AccountingEngine) interfaces.SpendCoordinator {
	return &spendCoordinator{
		uowFactory: uowFactory,
		engine:     engine,
	}
}

// PreCheck reports whether the account can currently cover amount
func (s *spendCoordinator) PreCheck(ctx context.Context, accountID uuid.UUID, amount int64) (bool, entities.Balance, error) {
	if amount <= 0 {
		return false, entities.Balance{}, entities.ErrInvalidAmount
	}

	var account *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		account, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return false, entities.Balance{}, err
	}

	return account.CanAfford(amount), account.Balance(), nil
}

// Spend debits amount, draining the daily bucket first. Insufficient balance is
// a result status, not an error. Transient store failures return an error
// wrapping entities.ErrStoreUnavailable with nothing applied.
func (s *spendCoordinator) Spend(ctx context.Context, req interfaces.SpendRequest) (*interfaces.SpendResult, error) {
	if req.Amount <= 0 {
		return nil, entities.ErrInvalidAmount
	}

	var current *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		current, err = loadAccount(ctx, uow, req.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.engine.ComputeSpend(current, req.Amount); err != nil {
		if errors.Is(err, entities.ErrInsufficientBalance) {
			return insufficient(current), nil
		}
		return nil, err
	}

	var result *interfaces.AtomicResult
	var plan SpendPlan
	err = runInUnitOfWork(ctx, s.uowFactory, s.engine.Policy().OperationTimeout, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		result, err = uow.LedgerStore().ApplyAtomic(ctx, req.AccountID, func(locked *entities.Account) (*interfaces.MutationResult, error) {
			// The pre-check above may be stale, the locked row decides
			p, err := s.engine.ComputeSpend(locked, req.Amount)
			if err != nil {
				return nil, err
			}
			plan = p
			next, tx := s.engine.ApplySpend(locked, p, req.ToolID, req.ToolResultID)
			return &interfaces.MutationResult{Account: next, Transactions: []*entities.Transaction{tx}}, nil
		})
		if err != nil {
			return err
		}

		publishBalanceChange(uow.EventBus(), result)
		return nil
	})

	if errors.Is(err, entities.ErrInsufficientBalance) {
		log.WithFields(log.Fields{
			"accountID": req.AccountID,
			"amount":    req.Amount,
		}).Debug("Spend lost a race for the remaining balance")
		return s.currentInsufficient(ctx, req.AccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to spend: %w", err)
	}

	log.WithFields(log.Fields{
		"accountID":      req.AccountID,
		"toolID":         req.ToolID,
		"toolResultID":   req.ToolResultID,
		"dailyDelta":     plan.DailyDelta,
		"purchasedDelta": plan.PurchasedDelta,
	}).Info("Spend applied")

	spend := &interfaces.SpendResult{
		Status:         interfaces.SpendStatusSpent,
		DailyDelta:     plan.DailyDelta,
		PurchasedDelta: plan.PurchasedDelta,
		Balance:        result.After.Balance(),
	}
	if len(result.Transactions) > 0 {
		spend.TransactionID = result.Transactions[0].ID
	}
	return spend, nil
}

// FindSpend returns the spend recorded for toolResultID, or nil when there is none.
// Callers use it after an ambiguous failure instead of blindly retrying.
func (s *spendCoordinator) FindSpend(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error) {
	var tx *entities.Transaction
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		tx, err = uow.TransactionRepository().FindSpendByToolResult(ctx, accountID, toolResultID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find spend: %w", err)
	}
	return tx, nil
}

func (s *spendCoordinator) currentInsufficient(ctx context.Context, accountID uuid.UUID) (*interfaces.SpendResult, error) {
	var account *entities.Account
	err := readInUnitOfWork(ctx, s.uowFactory, func(ctx context.Context, uow interfaces.UnitOfWork) error {
		var err error
		account, err = loadAccount(ctx, uow, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return insufficient(account), nil
}

func insufficient(account *entities.Account) *interfaces.SpendResult {
	return &interfaces.SpendResult{
		Status:  interfaces.SpendStatusInsufficientBalance,
		Balance: account.Balance(),
	}
}
