package infrastructure

import (
	"tokenledger/events"
)

// NoopEventPublisher drops every event. Admin commands use it so that offline
// maintenance never emits ledger events.
type NoopEventPublisher struct{}

// NewNoopEventPublisher creates a new no-op event publisher
func NewNoopEventPublisher() *NoopEventPublisher {
	return &NoopEventPublisher{}
}

// Publish does nothing with the event
func (n *NoopEventPublisher) Publish(event events.Event) error {
	return nil
}
