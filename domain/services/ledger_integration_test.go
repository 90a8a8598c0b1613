package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"tokenledger/config"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/repository"
	"tokenledger/repository/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	accounts  interfaces.AccountService
	grants    interfaces.GrantService
	referrals interfaces.ReferralService
	spends    interfaces.SpendCoordinator
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	testDB := testutil.SetupTestDatabase(t)

	factory := repository.NewUnitOfWorkFactory(testDB.DB, 5*time.Second)
	engine := NewAccountingEngine(config.DefaultLedgerPolicy())

	return &ledgerFixture{
		accounts:  NewAccountService(factory, engine),
		grants:    NewGrantService(factory, engine, config.DefaultPackCatalog()),
		referrals: NewReferralService(factory, engine),
		spends:    NewSpendCoordinator(factory, engine),
	}
}

func (f *ledgerFixture) signup(t *testing.T) *entities.Account {
	t.Helper()
	account, err := f.accounts.CreateAccount(context.Background(), "auth0|"+uuid.NewString())
	require.NoError(t, err)
	return account
}

func (f *ledgerFixture) requireDerivable(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		audit, err := f.accounts.VerifyLedger(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, audit.Matches, "balances of %s do not derive from the log: stored %d/%d, logged %d/%d",
			id, audit.Account.PurchasedBalance, audit.Account.DailyBalance, audit.Totals.Purchased, audit.Totals.Daily)
	}
}

func (f *ledgerFixture) balance(t *testing.T, id uuid.UUID) entities.Balance {
	t.Helper()
	b, err := f.accounts.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestLedger_EndToEnd(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	t.Run("signup grants starting balance", func(t *testing.T) {
		account := f.signup(t)

		assert.Equal(t, int64(15), account.PurchasedBalance)
		assert.Equal(t, int64(0), account.DailyBalance)
		assert.Len(t, account.ReferralCode, 8)

		again, err := f.accounts.CreateAccount(ctx, account.ExternalUserID)
		require.NoError(t, err)
		assert.Equal(t, account.ID, again.ID)
		assert.Equal(t, int64(15), f.balance(t, account.ID).Purchased)

		f.requireDerivable(t, account.ID)
	})

	t.Run("daily grant twice in one window", func(t *testing.T) {
		account := f.signup(t)

		first, err := f.grants.AwardDaily(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, first.Awarded)
		assert.Equal(t, int64(2), first.DailyBalance)

		second, err := f.grants.AwardDaily(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, second.Awarded)
		assert.Equal(t, int64(2), second.DailyBalance)

		f.requireDerivable(t, account.ID)
	})

	t.Run("purchase webhook is idempotent", func(t *testing.T) {
		account := f.signup(t)
		grant := interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "starter",
			IdempotencyKey: "cs_" + uuid.NewString(),
			TokenAmount:    50,
		}

		first, err := f.grants.GrantFromPurchase(ctx, grant)
		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusGranted, first.Status)

		second, err := f.grants.GrantFromPurchase(ctx, grant)
		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, second.Status)

		assert.Equal(t, int64(65), f.balance(t, account.ID).Purchased)
		f.requireDerivable(t, account.ID)
	})

	t.Run("spend drains daily first", func(t *testing.T) {
		account := f.signup(t)
		_, err := f.grants.AwardDaily(ctx, account.ID)
		require.NoError(t, err)

		req := interfaces.SpendRequest{
			AccountID:    account.ID,
			Amount:       8,
			ToolID:       "image_gen",
			ToolResultID: "res-" + uuid.NewString(),
		}
		result, err := f.spends.Spend(ctx, req)
		require.NoError(t, err)
		require.Equal(t, interfaces.SpendStatusSpent, result.Status)
		assert.Equal(t, entities.Balance{AccountID: account.ID, Purchased: 9, Daily: 0}, result.Balance)

		tx, err := f.spends.FindSpend(ctx, account.ID, req.ToolResultID)
		require.NoError(t, err)
		require.NotNil(t, tx)
		assert.Equal(t, result.TransactionID, tx.ID)
		assert.Equal(t, int64(-2), tx.DailyAmount)
		assert.Equal(t, int64(-6), tx.PurchasedAmount)

		missing, err := f.spends.FindSpend(ctx, account.ID, "res-unknown")
		require.NoError(t, err)
		assert.Nil(t, missing)

		tooMuch, err := f.spends.Spend(ctx, interfaces.SpendRequest{AccountID: account.ID, Amount: 10, ToolID: "image_gen"})
		require.NoError(t, err)
		assert.Equal(t, interfaces.SpendStatusInsufficientBalance, tooMuch.Status)
		assert.Equal(t, int64(9), f.balance(t, account.ID).Purchased)

		f.requireDerivable(t, account.ID)
	})

	t.Run("concurrent spends never overdraw", func(t *testing.T) {
		account := f.signup(t)

		var wg sync.WaitGroup
		statuses := make([]interfaces.SpendStatus, 2)
		errs := make([]error, 2)
		for i := range 2 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := f.spends.Spend(ctx, interfaces.SpendRequest{AccountID: account.ID, Amount: 10, ToolID: "tool"})
				errs[i] = err
				if res != nil {
					statuses[i] = res.Status
				}
			}(i)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.ElementsMatch(t, []interfaces.SpendStatus{interfaces.SpendStatusSpent, interfaces.SpendStatusInsufficientBalance}, statuses)
		assert.Equal(t, int64(5), f.balance(t, account.ID).Total())
		f.requireDerivable(t, account.ID)
	})

	t.Run("referral happy path and retries", func(t *testing.T) {
		referrer := f.signup(t)
		referee := f.signup(t)

		result, err := f.referrals.ApplyReferral(ctx, referee.ID, referrer.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ReferralStatusApplied, result.Status)
		assert.False(t, result.BonusPending)

		again, err := f.referrals.ApplyReferral(ctx, referee.ID, referrer.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ReferralStatusAlreadyReferred, again.Status)

		bonus, err := f.referrals.CreditReferralBonus(ctx, referee.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, bonus.ReferrerStatus)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, bonus.RefereeStatus)

		assert.Equal(t, int64(25), f.balance(t, referrer.ID).Purchased)
		assert.Equal(t, int64(20), f.balance(t, referee.ID).Purchased)

		updated, err := f.accounts.GetAccount(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.ReferralCount)

		self, err := f.referrals.ApplyReferral(ctx, referrer.ID, referrer.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ReferralStatusSelfReferral, self.Status)

		unknown, err := f.referrals.ApplyReferral(ctx, referrer.ID, "NOSUCHCD")
		require.NoError(t, err)
		assert.Equal(t, interfaces.ReferralStatusInvalidCode, unknown.Status)

		f.requireDerivable(t, referrer.ID, referee.ID)
	})

	t.Run("lifetime pack refills once per period", func(t *testing.T) {
		account := f.signup(t)

		_, err := f.grants.GrantFromPurchase(ctx, interfaces.PurchaseGrant{
			AccountID:      account.ID,
			PackID:         "lifetime",
			IdempotencyKey: "cs_" + uuid.NewString(),
			TokenAmount:    300,
		})
		require.NoError(t, err)

		period := entities.RefillPeriod(time.Now().AddDate(0, 1, 0))
		first, err := f.grants.GrantLifetimeRefill(ctx, account.ID, period)
		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusGranted, first.Status)

		second, err := f.grants.GrantLifetimeRefill(ctx, account.ID, period)
		require.NoError(t, err)
		assert.Equal(t, interfaces.GrantStatusAlreadyGranted, second.Status)

		assert.Equal(t, int64(15+300+100), f.balance(t, account.ID).Purchased)
		f.requireDerivable(t, account.ID)
	})
}

func TestLedger_AuditDuringConcurrentSpends(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	account := f.signup(t)
	_, err := f.grants.GrantFromPurchase(ctx, interfaces.PurchaseGrant{
		AccountID:      account.ID,
		PackID:         "pro",
		IdempotencyKey: "cs_" + uuid.NewString(),
		TokenAmount:    200,
	})
	require.NoError(t, err)

	const spenders = 4
	const spendsEach = 10

	var wg sync.WaitGroup
	done := make(chan struct{})
	for range spenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range spendsEach {
				_, err := f.spends.Spend(ctx, interfaces.SpendRequest{AccountID: account.ID, Amount: 3, ToolID: "tool"})
				assert.NoError(t, err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	audits := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		audit, err := f.accounts.VerifyLedger(ctx, account.ID)
		require.NoError(t, err)
		require.True(t, audit.Matches, "audit saw stored %d/%d against logged %d/%d",
			audit.Account.PurchasedBalance, audit.Account.DailyBalance, audit.Totals.Purchased, audit.Totals.Daily)
		audits++
	}

	assert.Positive(t, audits)
	assert.Equal(t, int64(215-spenders*spendsEach*3), f.balance(t, account.ID).Total())
}
