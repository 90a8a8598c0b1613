package services

import (
	"context"
	"time"

	"tokenledger/config"
	"tokenledger/domain/entities"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/testhelpers"
	"tokenledger/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Test constants for consistent test data
const (
	TestExternalUserID = "auth0|user-1"
	TestReferralCode   = "ABCD2345"
	TestReferrerCode   = "WXYZ6789"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine() *AccountingEngine {
	return NewAccountingEngine(config.DefaultLedgerPolicy())
}

func newTestAccount(purchased, daily int64) *entities.Account {
	return &entities.Account{
		ID:               uuid.New(),
		ExternalUserID:   TestExternalUserID,
		PurchasedBalance: purchased,
		DailyBalance:     daily,
		ReferralCode:     TestReferralCode,
		CreatedAt:        testNow.Add(-7 * 24 * time.Hour),
		UpdatedAt:        testNow.Add(-7 * 24 * time.Hour),
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

// expectAccountLookup makes every GetByID for account return a fresh copy
func expectAccountLookup(uow *testhelpers.MockUnitOfWork, account *entities.Account) {
	uow.Accounts.On("GetByID", mock.Anything, account.ID).Return(account.Clone(), nil)
}

// expectEventPublish accepts any number of events of eventType
func expectEventPublish(uow *testhelpers.MockUnitOfWork, eventType events.EventType) {
	uow.Events.On("Publish", mock.MatchedBy(func(e events.Event) bool {
		return e.Type() == eventType
	})).Return(nil)
}

// publishedEvents returns the events handed to the publisher mock
func publishedEvents(uow *testhelpers.MockUnitOfWork) []events.Event {
	var out []events.Event
	for _, call := range uow.Events.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(0).(events.Event))
		}
	}
	return out
}

// capturing wraps fn and records the result it produced
func capturing(dst **interfaces.AtomicResult, fn testhelpers.ApplyAtomicFunc) testhelpers.ApplyAtomicFunc {
	return func(ctx context.Context, accountID uuid.UUID, mutation interfaces.Mutation) (*interfaces.AtomicResult, error) {
		result, err := fn(ctx, accountID, mutation)
		*dst = result
		return result, err
	}
}
