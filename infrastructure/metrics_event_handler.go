package infrastructure

import (
	"context"

	"tokenledger/events"
	"tokenledger/infrastructure/observability"
)

// RegisterMetricsHandlers counts committed ledger movements from balance events
func RegisterMetricsHandlers(bus *events.Bus, metrics *observability.MetricsProvider) {
	bus.Subscribe(events.EventTypeBalanceChanged, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.BalanceChangedEvent)
		if !ok {
			return
		}
		metrics.RecordLedgerTransaction(string(e.Kind), e.Amount)
	})
}
