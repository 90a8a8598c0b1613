package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/database"
	"tokenledger/domain/interfaces"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db                     *database.DB
	tx                     pgx.Tx
	ctx                    context.Context
	lockTimeout            time.Duration
	transactionalPublisher interfaces.TransactionalEventPublisher
	accountRepo            *AccountRepository
	transactionRepo        *TransactionRepository
	lifetimeRefillRepo     *LifetimeRefillRepository
	ledgerStore            *LedgerStore
}

// UnitOfWorkFactory creates database-backed units of work
type UnitOfWorkFactory struct {
	db          *database.DB
	lockTimeout time.Duration
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory. lockTimeout bounds the
// wait for a contended account row.
func NewUnitOfWorkFactory(db *database.DB, lockTimeout time.Duration) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// CreateWithPublisher creates a new UnitOfWork whose events are flushed on commit
func (f *UnitOfWorkFactory) CreateWithPublisher(transactionalPublisher interfaces.TransactionalEventPublisher) interfaces.UnitOfWork {
	return &unitOfWork{
		db:                     f.db,
		lockTimeout:            f.lockTimeout,
		transactionalPublisher: transactionalPublisher,
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.BeginLedgerTx(ctx, u.lockTimeout)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}

	u.tx = tx
	u.ctx = ctx

	u.accountRepo = newAccountRepositoryWithTx(tx)
	u.transactionRepo = newTransactionRepositoryWithTx(tx)
	u.lifetimeRefillRepo = newLifetimeRefillRepositoryWithTx(tx)
	u.ledgerStore = newLedgerStore(u.accountRepo, u.transactionRepo)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	u.tx = nil
	if err != nil {
		if u.transactionalPublisher != nil {
			u.transactionalPublisher.Discard()
		}
		return classifyError("failed to commit transaction", err)
	}

	// Events are best-effort once the data is durable
	if u.transactionalPublisher != nil {
		if err := u.transactionalPublisher.Flush(u.ctx); err != nil {
			log.WithError(err).Error("Failed to flush events after commit")
		}
	}

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	u.tx = nil

	// Discard pending events on rollback
	if u.transactionalPublisher != nil {
		u.transactionalPublisher.Discard()
	}

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// AccountRepository returns the account repository for this unit of work
func (u *unitOfWork) AccountRepository() interfaces.AccountRepository {
	if u.accountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.accountRepo
}

// TransactionRepository returns the transaction repository for this unit of work
func (u *unitOfWork) TransactionRepository() interfaces.TransactionRepository {
	if u.transactionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionRepo
}

// LifetimeRefillRepository returns the lifetime refill repository for this unit of work
func (u *unitOfWork) LifetimeRefillRepository() interfaces.LifetimeRefillRepository {
	if u.lifetimeRefillRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.lifetimeRefillRepo
}

// LedgerStore returns the atomic ledger store for this unit of work
func (u *unitOfWork) LedgerStore() interfaces.LedgerStore {
	if u.ledgerStore == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.ledgerStore
}

// EventBus returns the transactional event publisher for this unit of work
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	if u.transactionalPublisher == nil {
		return discardPublisher{}
	}
	return u.transactionalPublisher
}
