package application

import (
	"context"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DailyGrantWorker sweeps accounts whose daily window has elapsed and awards
// their daily grant. AwardDaily is safe to call at any frequency.
type DailyGrantWorker struct {
	uowFactory interfaces.UnitOfWorkFactory
	grants     interfaces.GrantService
	window     time.Duration
	batchSize  int
	now        func() time.Time
}

// NewDailyGrantWorker creates a new daily grant worker
func NewDailyGrantWorker(uowFactory interfaces.UnitOfWorkFactory, grants interfaces.GrantService, window time.Duration) *DailyGrantWorker {
	return &DailyGrantWorker{
		uowFactory: uowFactory,
		grants:     grants,
		window:     window,
		batchSize:  defaultBatchSize,
		now:        time.Now,
	}
}

// Start begins the worker; the returned function stops it
func (w *DailyGrantWorker) Start(ctx context.Context, interval time.Duration) func() {
	return runEvery(ctx, "daily_grant", func() time.Duration { return interval }, func(ctx context.Context) error {
		_, err := w.RunOnce(ctx)
		return err
	})
}

// RunOnce pages through every due account and awards its grant
func (w *DailyGrantWorker) RunOnce(ctx context.Context) (*RunSummary, error) {
	cutoff := w.now().UTC().Add(-w.window)
	summary := &RunSummary{}
	after := uuid.Nil

	for {
		var batch []*entities.Account
		err := inReadUnit(ctx, w.uowFactory, func(uow interfaces.UnitOfWork) error {
			var err error
			batch, err = uow.AccountRepository().ListDailyGrantCandidates(ctx, cutoff, after, w.batchSize)
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("failed to list daily grant candidates: %w", err)
		}

		for _, account := range batch {
			summary.Processed++
			result, err := w.grants.AwardDaily(ctx, account.ID)
			switch {
			case err != nil:
				summary.Failed++
				log.WithFields(log.Fields{
					"accountID": account.ID,
					"error":     err,
				}).Warn("Daily grant failed")
			case result.Awarded:
				summary.Succeeded++
			default:
				summary.Skipped++
			}
		}

		if len(batch) < w.batchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}

	log.WithFields(log.Fields{
		"processed": summary.Processed,
		"awarded":   summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Completed daily grant sweep")

	return summary, nil
}
