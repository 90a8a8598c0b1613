package application

import (
	"context"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// ReferralBonusWorker completes bonus pairs whose linkage committed but whose
// credit step did not finish
type ReferralBonusWorker struct {
	uowFactory interfaces.UnitOfWorkFactory
	referrals  interfaces.ReferralService
	batchSize  int
}

// NewReferralBonusWorker creates a new referral bonus worker
func NewReferralBonusWorker(uowFactory interfaces.UnitOfWorkFactory, referrals interfaces.ReferralService) *ReferralBonusWorker {
	return &ReferralBonusWorker{
		uowFactory: uowFactory,
		referrals:  referrals,
		batchSize:  defaultBatchSize,
	}
}

// Start begins the worker; the returned function stops it
func (w *ReferralBonusWorker) Start(ctx context.Context, interval time.Duration) func() {
	return runEvery(ctx, "referral_bonus", func() time.Duration { return interval }, func(ctx context.Context) error {
		_, err := w.RunOnce(ctx)
		return err
	})
}

// RunOnce retries one batch of pending referral bonuses
func (w *ReferralBonusWorker) RunOnce(ctx context.Context) (*RunSummary, error) {
	var pending []*entities.Account
	err := inReadUnit(ctx, w.uowFactory, func(uow interfaces.UnitOfWork) error {
		var err error
		pending, err = uow.AccountRepository().ListPendingReferralBonuses(ctx, w.batchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending referral bonuses: %w", err)
	}

	summary := &RunSummary{}
	for _, referee := range pending {
		summary.Processed++
		if _, err := w.referrals.CreditReferralBonus(ctx, referee.ID); err != nil {
			summary.Failed++
			log.WithFields(log.Fields{
				"refereeID": referee.ID,
				"error":     err,
			}).Warn("Referral bonus retry failed")
			continue
		}
		summary.Succeeded++
	}

	if summary.Processed > 0 {
		log.WithFields(log.Fields{
			"processed": summary.Processed,
			"credited":  summary.Succeeded,
			"failed":    summary.Failed,
		}).Info("Completed referral bonus retry")
	}

	return summary, nil
}
