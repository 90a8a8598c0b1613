package repository

import (
	"tokenledger/database"
	"tokenledger/domain/interfaces"
	"tokenledger/events"
)

// discardPublisher drops events for units of work created without a publisher
type discardPublisher struct{}

func (discardPublisher) Publish(events.Event) error { return nil }

// Create returns a unit of work without event publishing. Tests and tools that
// only need the data path use it directly as an interfaces.UnitOfWorkFactory.
func (f *UnitOfWorkFactory) Create() interfaces.UnitOfWork {
	return f.CreateWithPublisher(nil)
}

// NewTestUnitOfWorkFactory creates a unit of work factory for tests
func NewTestUnitOfWorkFactory(db *database.DB) *UnitOfWorkFactory {
	return NewUnitOfWorkFactory(db, 0)
}
