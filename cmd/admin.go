package cmd

import (
	"context"
	"fmt"

	"tokenledger/application"
	"tokenledger/config"
	"tokenledger/database"
	"tokenledger/domain/services"
	"tokenledger/infrastructure"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Audit recomputes an account's balances from its transaction log
func Audit(ctx context.Context, accountID string) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", accountID, err)
	}

	cfg := config.Get()
	ConfigureLogging(cfg)

	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	uowFactory := infrastructure.NewUnitOfWorkFactory(db, cfg.LockTimeout, infrastructure.NewNoopEventPublisher())
	audit, err := services.NewAccountService(uowFactory, services.NewAccountingEngine(cfg.Ledger)).VerifyLedger(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("account:    %s\n", audit.Account.ID)
	fmt.Printf("stored:     purchased=%d daily=%d\n", audit.Account.PurchasedBalance, audit.Account.DailyBalance)
	fmt.Printf("from log:   purchased=%d daily=%d (%d transactions)\n", audit.Totals.Purchased, audit.Totals.Daily, audit.Totals.TransactionCount)
	if !audit.Matches {
		return fmt.Errorf("stored balances do not match the transaction log")
	}
	fmt.Println("status:     ok")
	return nil
}

// RefillLifetime issues the lifetime refill for period immediately. Events are
// not published; the period key keeps a later scheduled run from granting twice.
func RefillLifetime(ctx context.Context, period string) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	uowFactory := infrastructure.NewUnitOfWorkFactory(db, cfg.LockTimeout, infrastructure.NewNoopEventPublisher())
	grants := services.NewGrantService(uowFactory, services.NewAccountingEngine(cfg.Ledger), cfg.Packs)

	summary, err := application.NewLifetimeRefillWorker(uowFactory, grants).RunOnce(ctx, period)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"period":  period,
		"granted": summary.Succeeded,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}).Info("Lifetime refill finished")
	if summary.Failed > 0 {
		return fmt.Errorf("%d lifetime refills failed", summary.Failed)
	}
	return nil
}
