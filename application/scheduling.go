package application

import (
	"context"
	"fmt"
	"time"

	"tokenledger/domain/interfaces"
	"tokenledger/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

// defaultBatchSize bounds how many accounts a worker loads per read
const defaultBatchSize = 200

// RunSummary counts the per-account outcomes of one worker pass
type RunSummary struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

// runEvery calls run immediately and then after every wait returned by next,
// until ctx is cancelled or the returned stop function is called
func runEvery(ctx context.Context, name string, next func() time.Duration, run func(ctx context.Context) error) func() {
	stopChan := make(chan struct{})

	go func() {
		log.WithField("worker", name).Info("Worker started")

		for {
			if err := run(ctx); err != nil {
				log.WithFields(log.Fields{
					"worker": name,
					"error":  err,
				}).Error("Worker run failed")
				observability.GetMetrics().RecordWorkerRun(name, observability.OutcomeFailed)
			} else {
				observability.GetMetrics().RecordWorkerRun(name, observability.OutcomeSucceeded)
			}

			waitDuration := next()
			log.WithFields(log.Fields{
				"worker": name,
				"wait":   waitDuration,
			}).Debug("Worker waiting until next run")

			select {
			case <-ctx.Done():
				log.WithField("worker", name).Info("Worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.WithField("worker", name).Info("Worker shutting down (stop requested)...")
				return
			case <-time.After(waitDuration):
			}
		}
	}()

	return func() {
		close(stopChan)
	}
}

// inReadUnit runs fn in a unit of work that is always rolled back
func inReadUnit(ctx context.Context, factory interfaces.UnitOfWorkFactory, fn func(uow interfaces.UnitOfWork) error) error {
	uow := factory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return fn(uow)
}
