package services

import (
	"context"
	"testing"

	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/testhelpers"
	"tokenledger/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSpendCoordinator_Spend(t *testing.T) {
	t.Parallel()

	t.Run("drains daily before purchased", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(20, 5)

		expectAccountLookup(uow, account)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(capturing(&committed, testhelpers.EvaluateAgainst(account, nil)), nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)

		result, err := NewSpendCoordinator(factory, newTestEngine()).Spend(context.Background(), interfaces.SpendRequest{
			AccountID:    account.ID,
			Amount:       8,
			ToolID:       "image_generation",
			ToolResultID: "tr_1",
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.SpendStatusSpent, result.Status)
		assert.Equal(t, int64(5), result.DailyDelta)
		assert.Equal(t, int64(3), result.PurchasedDelta)
		assert.Equal(t, int64(0), result.Balance.Daily)
		assert.Equal(t, int64(17), result.Balance.Purchased)
		assert.Equal(t, int64(1), result.TransactionID)

		require.Len(t, committed.Transactions, 1)
		assert.Equal(t, "image_generation", *committed.Transactions[0].ToolID)

		evts := publishedEvents(uow)
		require.Len(t, evts, 1)
		changed := evts[0].(events.BalanceChangedEvent)
		assert.Equal(t, int64(-8), changed.Amount)
		assert.Equal(t, int64(5), changed.OldDaily)
		assert.Equal(t, int64(0), changed.NewDaily)
	})

	t.Run("insufficient balance is a status", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(3, 2)
		expectAccountLookup(uow, account)

		result, err := NewSpendCoordinator(factory, newTestEngine()).Spend(context.Background(), interfaces.SpendRequest{
			AccountID: account.ID,
			Amount:    6,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.SpendStatusInsufficientBalance, result.Status)
		assert.Equal(t, int64(5), result.Balance.Total())
		uow.Store.AssertNotCalled(t, "ApplyAtomic", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lost race for the balance", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		stale := newTestAccount(10, 0)
		locked := stale.Clone()
		locked.PurchasedBalance = 4

		uow.Accounts.On("GetByID", mock.Anything, stale.ID).Return(stale.Clone(), nil).Once()
		uow.Accounts.On("GetByID", mock.Anything, stale.ID).Return(locked.Clone(), nil)
		uow.Store.On("ApplyAtomic", mock.Anything, stale.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(locked, nil), nil)

		result, err := NewSpendCoordinator(factory, newTestEngine()).Spend(context.Background(), interfaces.SpendRequest{
			AccountID: stale.ID,
			Amount:    6,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.SpendStatusInsufficientBalance, result.Status)
		assert.Equal(t, int64(4), result.Balance.Purchased)
		uow.Events.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("store unavailable applies nothing", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(10, 0)

		expectAccountLookup(uow, account)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(nil, entities.ErrStoreUnavailable)

		result, err := NewSpendCoordinator(factory, newTestEngine()).Spend(context.Background(), interfaces.SpendRequest{
			AccountID: account.ID,
			Amount:    6,
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, entities.ErrStoreUnavailable)
		uow.Events.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		_, err := NewSpendCoordinator(factory, newTestEngine()).Spend(context.Background(), interfaces.SpendRequest{
			AccountID: newTestAccount(0, 0).ID,
			Amount:    0,
		})
		assert.ErrorIs(t, err, entities.ErrInvalidAmount)
	})
}

func TestSpendCoordinator_PreCheck(t *testing.T) {
	t.Parallel()

	factory := testhelpers.NewMockUnitOfWorkFactory()
	uow := factory.UoW
	account := newTestAccount(4, 2)
	expectAccountLookup(uow, account)

	coordinator := NewSpendCoordinator(factory, newTestEngine())

	ok, balance, err := coordinator.PreCheck(context.Background(), account.ID, 6)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(6), balance.Total())

	ok, _, err = coordinator.PreCheck(context.Background(), account.ID, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	uow.Store.AssertNotCalled(t, "ApplyAtomic", mock.Anything, mock.Anything, mock.Anything)
}

func TestSpendCoordinator_FindSpend(t *testing.T) {
	t.Parallel()

	factory := testhelpers.NewMockUnitOfWorkFactory()
	uow := factory.UoW
	account := newTestAccount(0, 0)
	recorded := &entities.Transaction{ID: 42, AccountID: account.ID, Amount: -3, Kind: entities.TransactionKindSpend}

	uow.Transactions.On("FindSpendByToolResult", mock.Anything, account.ID, "tr_9").Return(recorded, nil)
	uow.Transactions.On("FindSpendByToolResult", mock.Anything, account.ID, "tr_missing").Return(nil, nil)

	coordinator := NewSpendCoordinator(factory, newTestEngine())

	tx, err := coordinator.FindSpend(context.Background(), account.ID, "tr_9")
	require.NoError(t, err)
	assert.Equal(t, int64(42), tx.ID)

	tx, err = coordinator.FindSpend(context.Background(), account.ID, "tr_missing")
	require.NoError(t, err)
	assert.Nil(t, tx)
}
