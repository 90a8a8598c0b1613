package services

import (
	"context"
	"testing"
	"time"

	"tokenledger/config"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/testhelpers"
	"tokenledger/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestGrantService(factory *testhelpers.MockUnitOfWorkFactory) *grantService {
	svc := NewGrantService(factory, newTestEngine(), config.DefaultPackCatalog()).(*grantService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestGrantService_AwardDaily(t *testing.T) {
	t.Parallel()

	t.Run("grants when never granted", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(15, 0)

		expectAccountLookup(uow, account)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(capturing(&committed, testhelpers.EvaluateAgainst(account, nil)), nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)

		result, err := newTestGrantService(factory).AwardDaily(context.Background(), account.ID)

		require.NoError(t, err)
		assert.True(t, result.Awarded)
		assert.Equal(t, int64(2), result.Granted)
		assert.Equal(t, int64(2), result.DailyBalance)
		assert.Equal(t, int64(15), result.PurchasedBalance)
		require.NotNil(t, committed.After.LastDailyGrantAt)
		assert.True(t, committed.After.LastDailyGrantAt.Equal(testNow))
		uow.AssertAllExpectations(t)
	})

	t.Run("skips the lock when not due", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(15, 6)
		account.LastDailyGrantAt = ptrTime(testNow.Add(-2 * time.Hour))

		expectAccountLookup(uow, account)

		result, err := newTestGrantService(factory).AwardDaily(context.Background(), account.ID)

		require.NoError(t, err)
		assert.False(t, result.Awarded)
		assert.Equal(t, int64(6), result.DailyBalance)
		uow.Store.AssertNotCalled(t, "ApplyAtomic", mock.Anything, mock.Anything, mock.Anything)
		uow.Events.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("concurrent session granted first", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		stale := newTestAccount(15, 4)
		locked := stale.Clone()
		locked.DailyBalance = 6
		locked.LastDailyGrantAt = ptrTime(testNow.Add(-time.Second))

		uow.Accounts.On("GetByID", mock.Anything, stale.ID).Return(stale.Clone(), nil).Once()
		uow.Accounts.On("GetByID", mock.Anything, stale.ID).Return(locked.Clone(), nil)
		uow.Store.On("ApplyAtomic", mock.Anything, stale.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(locked, nil), nil)

		result, err := newTestGrantService(factory).AwardDaily(context.Background(), stale.ID)

		require.NoError(t, err)
		assert.False(t, result.Awarded)
		assert.Equal(t, int64(6), result.DailyBalance)
		uow.Events.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		account := newTestAccount(0, 0)
		factory.UoW.Accounts.On("GetByID", mock.Anything, account.ID).Return(nil, nil)

		_, err := newTestGrantService(factory).AwardDaily(context.Background(), account.ID)
		assert.ErrorIs(t, err, entities.ErrAccountNotFound)
	})

	t.Run("store unavailable", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(0, 0)

		expectAccountLookup(uow, account)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(nil, entities.ErrStoreUnavailable)

		_, err := newTestGrantService(factory).AwardDaily(context.Background(), account.ID)
		assert.ErrorIs(t, err, entities.ErrStoreUnavailable)
	})
}

func TestGrantService_GrantFromPurchase(t *testing.T) {
	t.Parallel()

	t.Run("credits a new purchase", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(15, 2)

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, "cs_test_1").Return(nil, nil)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(capturing(&committed, testhelpers.EvaluateAgainst(account, nil)), nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)
		expectEventPublish(uow, events.EventTypeGrantIssued)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "starter",
			IdempotencyKey: "cs_test_1",
			TokenAmount:    50,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusGranted, result.Status)
		assert.Equal(t, int64(65), result.Balance.Purchased)
		assert.Equal(t, int64(2), result.Balance.Daily)

		require.Len(t, committed.Transactions, 1)
		tx := committed.Transactions[0]
		assert.Equal(t, entities.TransactionKindPurchase, tx.Kind)
		assert.Equal(t, "starter", tx.Metadata["pack_id"])
		assert.Len(t, publishedEvents(uow), 2)
		uow.Refills.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("duplicate answered without locking", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(65, 0)
		key := "cs_test_1"

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, key).Return(&entities.Transaction{
			ID:             7,
			AccountID:      account.ID,
			IdempotencyKey: &key,
		}, nil)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "starter",
			IdempotencyKey: key,
			TokenAmount:    50,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, result.Status)
		assert.Equal(t, int64(65), result.Balance.Purchased)
		uow.Store.AssertNotCalled(t, "ApplyAtomic", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate detected at append", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(65, 0)

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, "cs_test_1").Return(nil, nil)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(account, entities.ErrAlreadyGranted), nil)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "starter",
			IdempotencyKey: "cs_test_1",
			TokenAmount:    50,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, result.Status)
		uow.Events.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("lifetime pack sets the refill marker", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(15, 0)

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, "cs_life").Return(nil, nil)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(account, nil), nil)
		uow.Refills.On("Upsert", mock.Anything, mock.MatchedBy(func(r *entities.LifetimeRefill) bool {
			return r.AccountID == account.ID && r.PackID == "lifetime" && r.MonthlyTokens == 100 && r.LastPeriod == nil
		})).Return(nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)
		expectEventPublish(uow, events.EventTypeGrantIssued)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "lifetime",
			IdempotencyKey: "cs_life",
			TokenAmount:    300,
		})

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusGranted, result.Status)
		assert.Equal(t, int64(315), result.Balance.Purchased)
		uow.AssertAllExpectations(t)
	})

	t.Run("unknown pack still credits", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(0, 0)

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, "cs_legacy").Return(nil, nil)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(account, nil), nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)
		expectEventPublish(uow, events.EventTypeGrantIssued)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "retired-pack",
			IdempotencyKey: "cs_legacy",
			TokenAmount:    25,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(25), result.Balance.Purchased)
	})

	t.Run("catalog amount wins over reported amount", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(15, 0)

		expectAccountLookup(uow, account)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, "cs_tampered").Return(nil, nil)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(capturing(&committed, testhelpers.EvaluateAgainst(account, nil)), nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)
		expectEventPublish(uow, events.EventTypeGrantIssued)

		result, err := newTestGrantService(factory).GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "starter",
			IdempotencyKey: "cs_tampered",
			TokenAmount:    5000,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(65), result.Balance.Purchased)
		require.Len(t, committed.Transactions, 1)
		assert.Equal(t, int64(50), committed.Transactions[0].Amount)
		assert.Equal(t, int64(5000), committed.Transactions[0].Metadata["reported_amount"])
	})

	t.Run("invalid requests", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		svc := newTestGrantService(factory)
		account := newTestAccount(0, 0)

		_, err := svc.GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{AccountID: account.ID, TokenAmount: 5})
		assert.ErrorIs(t, err, entities.ErrMissingIdempotencyKey)

		_, err = svc.GrantFromPurchase(context.Background(), interfaces.PurchaseGrant{AccountID: account.ID, IdempotencyKey: "k", TokenAmount: 0})
		assert.ErrorIs(t, err, entities.ErrInvalidAmount)

		factory.UoW.AssertNotCalled(t, "Begin", mock.Anything)
	})
}

func TestGrantService_GrantLifetimeRefill(t *testing.T) {
	t.Parallel()

	t.Run("issues the monthly refill", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(10, 0)
		key := LifetimeRefillKey(account.ID, "2026-03")

		expectAccountLookup(uow, account)
		uow.Refills.On("GetByAccount", mock.Anything, account.ID).Return(&entities.LifetimeRefill{
			AccountID:     account.ID,
			PackID:        "lifetime",
			MonthlyTokens: 100,
		}, nil)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, key).Return(nil, nil)
		var committed *interfaces.AtomicResult
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(capturing(&committed, testhelpers.EvaluateAgainst(account, nil)), nil)
		uow.Refills.On("MarkRefilled", mock.Anything, account.ID, "2026-03").Return(nil)
		expectEventPublish(uow, events.EventTypeBalanceChanged)
		expectEventPublish(uow, events.EventTypeGrantIssued)

		result, err := newTestGrantService(factory).GrantLifetimeRefill(context.Background(), account.ID, "2026-03")

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusGranted, result.Status)
		assert.Equal(t, int64(110), result.Balance.Purchased)
		require.Len(t, committed.Transactions, 1)
		assert.Equal(t, entities.TransactionKindLifetimeRefill, committed.Transactions[0].Kind)
		assert.Equal(t, key, *committed.Transactions[0].IdempotencyKey)
		uow.AssertAllExpectations(t)
	})

	t.Run("repeat for the same period still advances the marker", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		uow := factory.UoW
		account := newTestAccount(110, 0)
		key := LifetimeRefillKey(account.ID, "2026-03")

		expectAccountLookup(uow, account)
		uow.Refills.On("GetByAccount", mock.Anything, account.ID).Return(&entities.LifetimeRefill{
			AccountID:     account.ID,
			PackID:        "lifetime",
			MonthlyTokens: 100,
		}, nil)
		uow.Transactions.On("GetByIdempotencyKey", mock.Anything, key).Return(&entities.Transaction{ID: 3, AccountID: account.ID}, nil)
		uow.Store.On("ApplyAtomic", mock.Anything, account.ID, mock.Anything).
			Return(testhelpers.EvaluateAgainst(account, entities.ErrAlreadyGranted), nil)
		uow.Refills.On("MarkRefilled", mock.Anything, account.ID, "2026-03").Return(nil)

		result, err := newTestGrantService(factory).GrantLifetimeRefill(context.Background(), account.ID, "2026-03")

		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, result.Status)
		assert.Equal(t, int64(110), result.Balance.Purchased)
		uow.Refills.AssertExpectations(t)
	})

	t.Run("account without lifetime pack", func(t *testing.T) {
		t.Parallel()

		factory := testhelpers.NewMockUnitOfWorkFactory()
		account := newTestAccount(0, 0)
		factory.UoW.Refills.On("GetByAccount", mock.Anything, account.ID).Return(nil, nil)

		_, err := newTestGrantService(factory).GrantLifetimeRefill(context.Background(), account.ID, "2026-03")
		assert.ErrorIs(t, err, entities.ErrNoLifetimeRefill)
	})
}
