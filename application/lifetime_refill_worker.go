package application

import (
	"context"
	"fmt"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// LifetimeRefillWorker issues the monthly refill for lifetime pack holders
type LifetimeRefillWorker struct {
	uowFactory interfaces.UnitOfWorkFactory
	grants     interfaces.GrantService
	batchSize  int
	now        func() time.Time
}

// NewLifetimeRefillWorker creates a new lifetime refill worker
func NewLifetimeRefillWorker(uowFactory interfaces.UnitOfWorkFactory, grants interfaces.GrantService) *LifetimeRefillWorker {
	return &LifetimeRefillWorker{
		uowFactory: uowFactory,
		grants:     grants,
		batchSize:  defaultBatchSize,
		now:        time.Now,
	}
}

// Start runs a catch-up pass immediately and then once a month on day (UTC)
func (w *LifetimeRefillWorker) Start(ctx context.Context, day int) func() {
	return runEvery(ctx, "lifetime_refill", func() time.Duration {
		return nextRefillRun(w.now().UTC(), day).Sub(w.now().UTC())
	}, func(ctx context.Context) error {
		_, err := w.RunOnce(ctx, currentRefillPeriod(w.now().UTC(), day))
		return err
	})
}

// currentRefillPeriod is the latest period whose refill day has been reached
func currentRefillPeriod(now time.Time, day int) string {
	if now.Day() < day {
		return entities.RefillPeriod(now.AddDate(0, 0, -now.Day()))
	}
	return entities.RefillPeriod(now)
}

// nextRefillRun returns the first midnight on day of month strictly after now
func nextRefillRun(now time.Time, day int) time.Time {
	next := time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// RunOnce issues the refill for period to every marker not yet refilled for it.
// Refilled markers drop out of the due list, so batches are re-read until empty.
func (w *LifetimeRefillWorker) RunOnce(ctx context.Context, period string) (*RunSummary, error) {
	summary := &RunSummary{}

	for {
		var due []*entities.LifetimeRefill
		err := inReadUnit(ctx, w.uowFactory, func(uow interfaces.UnitOfWork) error {
			var err error
			due, err = uow.LifetimeRefillRepository().ListDue(ctx, period, w.batchSize)
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("failed to list due lifetime refills: %w", err)
		}

		progressed := false
		for _, refill := range due {
			summary.Processed++
			result, err := w.grants.GrantLifetimeRefill(ctx, refill.AccountID, period)
			if err != nil {
				summary.Failed++
				log.WithFields(log.Fields{
					"accountID": refill.AccountID,
					"period":    period,
					"error":     err,
				}).Warn("Lifetime refill failed")
				continue
			}
			progressed = true
			if result.Status == interfaces.GrantStatusGranted {
				summary.Succeeded++
			} else {
				summary.Skipped++
			}
		}

		// Everything left is failing; retry on the next run
		if len(due) < w.batchSize || !progressed {
			break
		}
	}

	log.WithFields(log.Fields{
		"period":    period,
		"processed": summary.Processed,
		"granted":   summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Completed lifetime refill run")

	return summary, nil
}
