package infrastructure

import (
	"context"

	"tokenledger/domain/interfaces"
	"tokenledger/events"

	log "github.com/sirupsen/logrus"
)

// TransactionalPublisher holds events raised inside a unit of work and hands
// them to the real publisher only after the database commit succeeded.
type TransactionalPublisher struct {
	realPublisher interfaces.EventPublisher
	pending       []events.Event
}

// NewTransactionalPublisher creates a new transactional publisher
func NewTransactionalPublisher(realPublisher interfaces.EventPublisher) *TransactionalPublisher {
	return &TransactionalPublisher{
		realPublisher: realPublisher,
		pending:       make([]events.Event, 0),
	}
}

// Publish queues an event without publishing it
func (p *TransactionalPublisher) Publish(event events.Event) error {
	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"pendingCount": len(p.pending),
	}).Debug("Queued event in transactional publisher")

	p.pending = append(p.pending, event)
	return nil
}

// Flush publishes all pending events in order. A failed event is logged and
// the rest are still published.
func (p *TransactionalPublisher) Flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}

	log.WithField("pendingEventCount", len(p.pending)).Debug("Flushing pending events")

	for _, event := range p.pending {
		if err := p.realPublisher.Publish(event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"error":     err,
			}).Error("Failed to publish event during flush")
		}
	}

	p.pending = p.pending[:0]
	return nil
}

// Discard drops all pending events. Called on rollback.
func (p *TransactionalPublisher) Discard() {
	if len(p.pending) > 0 {
		log.WithField("discardedEventCount", len(p.pending)).Debug("Discarding pending events")
	}
	p.pending = p.pending[:0]
}

// Pending returns the number of queued events
func (p *TransactionalPublisher) Pending() int {
	return len(p.pending)
}
