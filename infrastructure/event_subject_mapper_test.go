package infrastructure

import (
	"testing"

	"tokenledger/events"

	"github.com/stretchr/testify/assert"
)

func TestEventSubjectMapper_RoundTrip(t *testing.T) {
	t.Parallel()

	mapper := NewEventSubjectMapper()

	tests := []struct {
		event   events.Event
		subject string
	}{
		{events.BalanceChangedEvent{}, "ledger.balance_changed"},
		{events.AccountCreatedEvent{}, "ledger.account_created"},
		{events.ReferralAppliedEvent{}, "ledger.referral_applied"},
		{events.GrantIssuedEvent{}, "ledger.grant_issued"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.subject, mapper.MapEventToSubject(tt.event))
			assert.Equal(t, tt.event.Type(), mapper.MapSubjectToEventType(tt.subject))
		})
	}

	assert.ElementsMatch(t, []string{
		"ledger.balance_changed",
		"ledger.account_created",
		"ledger.referral_applied",
		"ledger.grant_issued",
	}, mapper.GetAllSubjects())
}

func TestEventSubjectMapper_UnknownSubject(t *testing.T) {
	t.Parallel()

	mapper := NewEventSubjectMapper()
	assert.Equal(t, events.EventType("other.subject"), mapper.MapSubjectToEventType("other.subject"))
}
