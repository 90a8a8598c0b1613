package infrastructure

import (
	"fmt"

	"tokenledger/events"
)

// LedgerEventStream is the JetStream stream holding every ledger subject
const LedgerEventStream = "ledger_events"

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

var subjectsByType = map[events.EventType]string{
	events.EventTypeBalanceChanged:  "ledger.balance_changed",
	events.EventTypeAccountCreated:  "ledger.account_created",
	events.EventTypeReferralApplied: "ledger.referral_applied",
	events.EventTypeGrantIssued:     "ledger.grant_issued",
}

// MapEventToSubject converts a domain event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	if subject, ok := subjectsByType[event.Type()]; ok {
		return subject
	}
	return fmt.Sprintf("ledger.unknown.%s", event.Type())
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	for eventType, s := range subjectsByType {
		if s == subject {
			return eventType
		}
	}
	return events.EventType(subject)
}

// GetAllSubjects returns all subjects this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		"ledger.balance_changed",
		"ledger.account_created",
		"ledger.referral_applied",
		"ledger.grant_issued",
	}
}
