package services

import (
	"context"
	"testing"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/testhelpers"
	"tokenledger/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// evaluateNewAccount runs the mutation against the empty row Create just inserted
func evaluateNewAccount(externalUserID string) testhelpers.ApplyAtomicFunc {
	return func(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
		return testhelpers.EvaluateAgainst(&entities.Account{ID: accountID, ExternalUserID: externalUserID}, nil)(ctx, accountID, mutation)
	}
}

func TestAccountService_CreateAccount(t *testing.T) {
	t.Parallel()

	t.Run("new account gets the signup grant", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW

		uow.Accounts.On("GetByExternalUserID", mock.Anything, TestExternalUserID).Return(nil, nil)
		uow.Accounts.On("Create", mock.Anything, mock.MatchedBy(func(a *entities.Account) bool {
			return a.ExternalUserID == TestExternalUserID && len(a.ReferralCode) == 8 && a.TotalBalance() == 0
		})).Return(nil)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, mock.Anything, mock.Anything).
			Return(capturing(&committed, evaluateNewAccount(TestExternalUserID)), nil)
		expectEventPublish(uow, events.EventTypeAccountCreated)
		expectEventPublish(uow, events.EventTypeBalanceChanged)

		account, err := NewAccountService(factory, newTestEngine()).CreateAccount(context.Background(), TestExternalUserID)

		require.NoError(t, err)
		assert.Equal(t, int64(15), account.PurchasedBalance)
		assert.Equal(t, int64(0), account.DailyBalance)
		assert.Nil(t, account.LastDailyGrantAt)

		require.Len(t, committed.Transactions, 1)
		assert.Equal(t, SignupGrantKey(account.ID), *committed.Transactions[0].IdempotencyKey)

		evts := publishedEvents(uow)
		require.Len(t, evts, 2)
		created := evts[0].(events.AccountCreatedEvent)
		assert.Equal(t, account.ID, created.AccountID)
		assert.Equal(t, int64(15), created.PurchasedBalance)
		uow.AssertAllExpectations(t)
	})

	t.Run("existing account is returned unchanged", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		existing := newTestAccount(3, 9)
		factory.UoW.Accounts.On("GetByExternalUserID", mock.Anything, TestExternalUserID).Return(existing, nil)

		account, err := NewAccountService(factory, newTestEngine()).CreateAccount(context.Background(), TestExternalUserID)

		require.NoError(t, err)
		assert.Same(t, existing, account)
		factory.UoW.Accounts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("regenerates a colliding referral code", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW

		uow.Accounts.On("GetByExternalUserID", mock.Anything, TestExternalUserID).Return(nil, nil)
		uow.Accounts.On("Create", mock.Anything, mock.Anything).Return(entities.ErrReferralCodeTaken).Once()
		uow.Accounts.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
		uow.Store.On("ApplyAtomic", mock.Anything, mock.Anything, mock.Anything).
			Return(evaluateNewAccount(TestExternalUserID), nil)
		expectEventPublish(uow, events.EventTypeAccountCreated)
		expectEventPublish(uow, events.EventTypeBalanceChanged)

		account, err := NewAccountService(factory, newTestEngine()).CreateAccount(context.Background(), TestExternalUserID)

		require.NoError(t, err)
		assert.Equal(t, int64(15), account.PurchasedBalance)
		uow.Accounts.AssertNumberOfCalls(t, "Create", 2)
	})

	t.Run("concurrent signup for the same user", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		winner := newTestAccount(15, 0)

		uow.Accounts.On("GetByExternalUserID", mock.Anything, TestExternalUserID).Return(nil, nil).Once()
		uow.Accounts.On("GetByExternalUserID", mock.Anything, TestExternalUserID).Return(winner, nil)
		uow.Accounts.On("Create", mock.Anything, mock.Anything).Return(entities.ErrAccountExists)

		account, err := NewAccountService(factory, newTestEngine()).CreateAccount(context.Background(), TestExternalUserID)

		require.NoError(t, err)
		assert.Equal(t, winner.ID, account.ID)
		uow.Store.AssertNotCalled(t, "ApplyAtomic", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing external user id", func(t *testing.T) {
		t.Parallel()

		_, err := NewAccountService(testhelpers.NewMockUnitOfWorkFactory(), newTestEngine()).CreateAccount(context.Background(), "")
		assert.Error(t, err)
	})
}

func TestAccountService_GetBalance(t *testing.T) {
	t.Parallel()

	factory := testhelpers.NewMockUnitOfWorkFactory()
	account := newTestAccount(12, 4)
	expectAccountLookup(factory.UoW, account)
	missing := uuid.New()
	factory.UoW.Accounts.On("GetByID", mock.Anything, missing).Return(nil, nil)

	svc := NewAccountService(factory, newTestEngine())

	balance, err := svc.GetBalance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.Balance{AccountID: account.ID, Purchased: 12, Daily: 4}, balance)

	_, err = svc.GetBalance(context.Background(), missing)
	assert.ErrorIs(t, err, entities.ErrAccountNotFound)
}

func TestAccountService_ListTransactions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"default", 0, 50},
		{"explicit", 10, 10},
		{"clamped", 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory := testhelpers.NewMockUnitOfWorkFactory()
			account := newTestAccount(0, 0)
			expectAccountLookup(factory.UoW, account)
			factory.UoW.Transactions.On("ListByAccount", mock.Anything, account.ID, tt.wantLimit).Return([]*entities.Transaction{}, nil)

			txs, err := NewAccountService(factory, newTestEngine()).ListTransactions(context.Background(), account.ID, tt.limit)

			require.NoError(t, err)
			assert.Empty(t, txs)
			factory.UoW.Transactions.AssertExpectations(t)
		})
	}
}

func TestAccountService_VerifyLedger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		totals      entities.BucketTotals
		wantMatches bool
	}{
		{"derivable", entities.BucketTotals{Purchased: 12, Daily: 4, TransactionCount: 5}, true},
		{"drifted", entities.BucketTotals{Purchased: 11, Daily: 4, TransactionCount: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory := testhelpers.NewMockUnitOfWorkFactory()
			account := newTestAccount(12, 4)
			factory.UoW.Accounts.On("GetForShare", mock.Anything, account.ID).Return(account, nil)
			totals := tt.totals
			factory.UoW.Transactions.On("SumByAccount", mock.Anything, account.ID).Return(&totals, nil)

			audit, err := NewAccountService(factory, newTestEngine()).VerifyLedger(context.Background(), account.ID)

			require.NoError(t, err)
			assert.Equal(t, tt.wantMatches, audit.Matches)
			assert.Equal(t, tt.totals, audit.Totals)
		})
	}
}
