package infrastructure

import (
	"context"
	"testing"

	"tokenledger/events"
	"tokenledger/repository/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWorkFactory_EventsFollowCommit(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	real := &recordingPublisher{}
	factory := NewUnitOfWorkFactory(testDB.DB, 0, real)

	t.Run("rollback discards", func(t *testing.T) {
		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		require.NoError(t, uow.EventBus().Publish(events.AccountCreatedEvent{AccountID: uuid.New()}))
		require.NoError(t, uow.Rollback())

		assert.Empty(t, real.received())
	})

	t.Run("commit flushes", func(t *testing.T) {
		account := testutil.NewTestAccount()

		uow := factory.Create()
		require.NoError(t, uow.Begin(ctx))
		require.NoError(t, uow.AccountRepository().Create(ctx, account))
		require.NoError(t, uow.EventBus().Publish(events.AccountCreatedEvent{AccountID: account.ID}))

		assert.Empty(t, real.received())
		require.NoError(t, uow.Commit())

		published := real.received()
		require.Len(t, published, 1)
		assert.Equal(t, account.ID, published[0].(events.AccountCreatedEvent).AccountID)
	})
}
