package testhelpers

import (
	"context"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAccountService is a mock implementation of interfaces.AccountService
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) CreateAccount(ctx context.Context, externalUserID string) (*entities.Account, error) {
	args := m.Called(ctx, externalUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*entities.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (entities.Balance, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(entities.Balance), args.Error(1)
}

func (m *MockAccountService) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*entities.Transaction, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Transaction), args.Error(1)
}

func (m *MockAccountService) VerifyLedger(ctx context.Context, accountID uuid.UUID) (*interfaces.LedgerAudit, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.LedgerAudit), args.Error(1)
}

// MockGrantService is a mock implementation of interfaces.GrantService
type MockGrantService struct {
	mock.Mock
}

func (m *MockGrantService) AwardDaily(ctx context.Context, accountID uuid.UUID) (*interfaces.DailyGrantResult, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.DailyGrantResult), args.Error(1)
}

func (m *MockGrantService) GrantFromPurchase(ctx context.Context, grant interfaces.PurchaseGrant) (*interfaces.PurchaseGrantResult, error) {
	args := m.Called(ctx, grant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PurchaseGrantResult), args.Error(1)
}

func (m *MockGrantService) GrantLifetimeRefill(ctx context.Context, accountID uuid.UUID, period string) (*interfaces.PurchaseGrantResult, error) {
	args := m.Called(ctx, accountID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PurchaseGrantResult), args.Error(1)
}

// MockReferralService is a mock implementation of interfaces.ReferralService
type MockReferralService struct {
	mock.Mock
}

func (m *MockReferralService) ApplyReferral(ctx context.Context, accountID uuid.UUID, code string) (*interfaces.ReferralResult, error) {
	args := m.Called(ctx, accountID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ReferralResult), args.Error(1)
}

func (m *MockReferralService) CreditReferralBonus(ctx context.Context, refereeID uuid.UUID) (*interfaces.ReferralBonusResult, error) {
	args := m.Called(ctx, refereeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ReferralBonusResult), args.Error(1)
}

// MockSpendCoordinator is a mock implementation of interfaces.SpendCoordinator
type MockSpendCoordinator struct {
	mock.Mock
}

func (m *MockSpendCoordinator) PreCheck(ctx context.Context, accountID uuid.UUID, amount int64) (bool, entities.Balance, error) {
	args := m.Called(ctx, accountID, amount)
	return args.Bool(0), args.Get(1).(entities.Balance), args.Error(2)
}

func (m *MockSpendCoordinator) Spend(ctx context.Context, req interfaces.SpendRequest) (*interfaces.SpendResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.SpendResult), args.Error(1)
}

func (m *MockSpendCoordinator) FindSpend(ctx context.Context, accountID uuid.UUID, toolResultID string) (*entities.Transaction, error) {
	args := m.Called(ctx, accountID, toolResultID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Transaction), args.Error(1)
}
