package testhelpers

import (
	"context"
	"time"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *entities.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*entities.Account, error) {
	args := m.Called(ctx, externalUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByReferralCode(ctx context.Context, code string) (*entities.Account, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetForShare(ctx context.Context, id uuid.UUID) (*entities.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, account *entities.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) ListDailyGrantCandidates(ctx context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]*entities.Account, error) {
	args := m.Called(ctx, cutoff, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) ListPendingReferralBonuses(ctx context.Context, limit int) ([]*entities.Account, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Account), args.Error(1)
}

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Append(ctx context.Context, tx *entities.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) SumByAccount(ctx context.Context, accountID uuid.UUID) (*entities.BucketTotals, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.BucketTotals), args.Error(1)
}

func (m *MockTransactionRepository) FindSpendByToolResult(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error) {
	args := m.Called(ctx, accountID, toolResultID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Transaction), args.Error(1)
}

// MockLifetimeRefillRepository is a mock implementation of LifetimeRefillRepository
type MockLifetimeRefillRepository struct {
	mock.Mock
}

func (m *MockLifetimeRefillRepository) Upsert(ctx context.Context, refill *entities.LifetimeRefill) error {
	args := m.Called(ctx, refill)
	return args.Error(0)
}

func (m *MockLifetimeRefillRepository) GetByAccount(ctx context.Context, accountID uuid.UUID) (*entities.LifetimeRefill, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.LifetimeRefill), args.Error(1)
}

func (m *MockLifetimeRefillRepository) ListDue(ctx context.Context, period string, limit int) ([]*entities.LifetimeRefill, error) {
	args := m.Called(ctx, period, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.LifetimeRefill), args.Error(1)
}

func (m *MockLifetimeRefillRepository) MarkRefilled(ctx context.Context, accountID uuid.UUID, period string) error {
	args := m.Called(ctx, accountID, period)
	return args.Error(0)
}

// ApplyAtomicFunc computes the return values of a MockLedgerStore call
type ApplyAtomicFunc func(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error)

// MockLedgerStore is a mock implementation of LedgerStore.
// Return an ApplyAtomicFunc to have the mutation actually evaluated.
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) ApplyAtomic(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
	args := m.Called(ctx, accountID, mutation)
	if fn, ok := args.Get(0).(ApplyAtomicFunc); ok {
		return fn(ctx, accountID, mutation)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.AtomicResult), args.Error(1)
}

// EvaluateAgainst returns an ApplyAtomicFunc that runs the mutation against a copy
// of locked and reports the outcome the way the store would. appendErr, when set,
// is returned after a successful mutation to simulate a duplicate idempotency key.
func EvaluateAgainst(locked *entities.Account, appendErr error) ApplyAtomicFunc {
	return func(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
		before := locked.Clone()
		out, err := mutation(before.Clone())
		if err != nil {
			return nil, err
		}
		if appendErr != nil {
			return nil, appendErr
		}
		for i, tx := range out.Transactions {
			tx.ID = int64(i + 1)
		}
		return &interfaces.AtomicResult{Before: before, After: out.Account, Transactions: out.Transactions}, nil
	}
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockUnitOfWork is a mock implementation of UnitOfWork backed by repository mocks
type MockUnitOfWork struct {
	mock.Mock

	Accounts     *MockAccountRepository
	Transactions *MockTransactionRepository
	Refills      *MockLifetimeRefillRepository
	Store        *MockLedgerStore
	Events       *MockEventPublisher
}

// NewMockUnitOfWork creates a unit of work whose Begin, Commit and Rollback succeed
func NewMockUnitOfWork() *MockUnitOfWork {
	uow := &MockUnitOfWork{
		Accounts:     &MockAccountRepository{},
		Transactions: &MockTransactionRepository{},
		Refills:      &MockLifetimeRefillRepository{},
		Store:        &MockLedgerStore{},
		Events:       &MockEventPublisher{},
	}
	uow.On("Begin", mock.Anything).Return(nil).Maybe()
	uow.On("Commit").Return(nil).Maybe()
	uow.On("Rollback").Return(nil).Maybe()
	return uow
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) AccountRepository() interfaces.AccountRepository { return m.Accounts }

func (m *MockUnitOfWork) TransactionRepository() interfaces.TransactionRepository {
	return m.Transactions
}

func (m *MockUnitOfWork) LifetimeRefillRepository() interfaces.LifetimeRefillRepository {
	return m.Refills
}

func (m *MockUnitOfWork) LedgerStore() interfaces.LedgerStore { return m.Store }

func (m *MockUnitOfWork) EventBus() interfaces.EventPublisher { return m.Events }

// AssertAllExpectations verifies every mock of the unit of work
func (m *MockUnitOfWork) AssertAllExpectations(t mock.TestingT) {
	m.AssertExpectations(t)
	m.Accounts.AssertExpectations(t)
	m.Transactions.AssertExpectations(t)
	m.Refills.AssertExpectations(t)
	m.Store.AssertExpectations(t)
	m.Events.AssertExpectations(t)
}

// MockUnitOfWorkFactory hands out the same MockUnitOfWork for every Create call
type MockUnitOfWorkFactory struct {
	UoW *MockUnitOfWork
}

// NewMockUnitOfWorkFactory creates a factory around a fresh MockUnitOfWork
func NewMockUnitOfWorkFactory() *MockUnitOfWorkFactory {
	return &MockUnitOfWorkFactory{UoW: NewMockUnitOfWork()}
}

func (f *MockUnitOfWorkFactory) Create() interfaces.UnitOfWork {
	return f.UoW
}
