package infrastructure

import (
	"time"

	"tokenledger/database"
	"tokenledger/domain/interfaces"
	"tokenledger/repository"
)

// UnitOfWorkFactory creates units of work whose events reach the event
// publisher only after their transaction commits
type UnitOfWorkFactory struct {
	repoFactory interface {
		CreateWithPublisher(interfaces.TransactionalEventPublisher) interfaces.UnitOfWork
	}
	eventPublisher interfaces.EventPublisher
}

// NewUnitOfWorkFactory creates a new UnitOfWorkFactory
func NewUnitOfWorkFactory(db *database.DB, lockTimeout time.Duration, eventPublisher interfaces.EventPublisher) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		repoFactory:    repository.NewUnitOfWorkFactory(db, lockTimeout),
		eventPublisher: eventPublisher,
	}
}

// Create creates a new UnitOfWork with its own transactional publisher
func (f *UnitOfWorkFactory) Create() interfaces.UnitOfWork {
	return f.repoFactory.CreateWithPublisher(NewTransactionalPublisher(f.eventPublisher))
}
