package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tokenledger/events"
	"tokenledger/infrastructure/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// EventEnvelope is the wire format of every ledger event
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// NATSEventPublisher dispatches events to in-process subscribers and then
// publishes them to JetStream
type NATSEventPublisher struct {
	publisher     MessagePublisher
	subjectMapper *EventSubjectMapper
	local         *events.Bus
}

// NewNATSEventPublisher creates a new NATS event publisher. local may be nil.
func NewNATSEventPublisher(publisher MessagePublisher, subjectMapper *EventSubjectMapper, local *events.Bus) *NATSEventPublisher {
	return &NATSEventPublisher{
		publisher:     publisher,
		subjectMapper: subjectMapper,
		local:         local,
	}
}

// Publish publishes an event to NATS using the appropriate subject
func (p *NATSEventPublisher) Publish(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if p.local != nil {
		p.local.Emit(context.Background(), event)
	}

	subject := p.subjectMapper.MapEventToSubject(event)

	envelope, err := newEnvelope(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := p.publisher.Publish(ctx, subject, data); err != nil {
		// No stream bound to the subject; nobody is listening
		if errors.Is(err, nats.ErrNoStreamResponse) {
			return nil
		}
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	observability.GetMetrics().RecordNATSMessagePublished(string(event.Type()))

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Published event to NATS")
	return nil
}

// EnsureLedgerEventStream makes sure the ledger_events stream covers every subject
func (p *NATSEventPublisher) EnsureLedgerEventStream(client *NATSClient) error {
	return client.EnsureStream(LedgerEventStream, p.subjectMapper.GetAllSubjects())
}

func newEnvelope(event events.Event) (*EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     time.Now().UTC(),
		SourceService: "tokenledger",
		Payload:       payload,
	}, nil
}
