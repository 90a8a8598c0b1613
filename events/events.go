package events

import (
	"context"
	"sync"

	"tokenledger/domain/entities"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChanged  EventType = "balance_changed"
	EventTypeAccountCreated  EventType = "account_created"
	EventTypeReferralApplied EventType = "referral_applied"
	EventTypeGrantIssued     EventType = "grant_issued"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangedEvent is published after any committed mutation of an account's buckets
type BalanceChangedEvent struct {
	AccountID    uuid.UUID                `json:"account_id"`
	Kind         entities.TransactionKind `json:"kind"`
	Amount       int64                    `json:"amount"`
	OldPurchased int64                    `json:"old_purchased_balance"`
	NewPurchased int64                    `json:"new_purchased_balance"`
	OldDaily     int64                    `json:"old_daily_balance"`
	NewDaily     int64                    `json:"new_daily_balance"`
}

func (e BalanceChangedEvent) Type() EventType {
	return EventTypeBalanceChanged
}

// AccountCreatedEvent represents a signup
type AccountCreatedEvent struct {
	AccountID        uuid.UUID `json:"account_id"`
	ExternalUserID   string    `json:"external_user_id"`
	ReferralCode     string    `json:"referral_code"`
	PurchasedBalance int64     `json:"purchased_balance"`
	DailyBalance     int64     `json:"daily_balance"`
}

func (e AccountCreatedEvent) Type() EventType {
	return EventTypeAccountCreated
}

// ReferralAppliedEvent is published once the referral linkage commits
type ReferralAppliedEvent struct {
	RefereeID  uuid.UUID `json:"referee_id"`
	ReferrerID uuid.UUID `json:"referrer_id"`
}

func (e ReferralAppliedEvent) Type() EventType {
	return EventTypeReferralApplied
}

// GrantIssuedEvent represents an externally keyed grant (purchase, lifetime refill, referral bonus)
type GrantIssuedEvent struct {
	AccountID      uuid.UUID                `json:"account_id"`
	Kind           entities.TransactionKind `json:"kind"`
	Amount         int64                    `json:"amount"`
	IdempotencyKey string                   `json:"idempotency_key"`
}

func (e GrantIssuedEvent) Type() EventType {
	return EventTypeGrantIssued
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus dispatches events to in-process subscribers
type Bus struct {
	mu           sync.RWMutex
	handlers     map[EventType][]Handler
	syncHandlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers:     make(map[EventType][]Handler),
		syncHandlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// SubscribeSync adds a handler that Emit runs inline, before it returns.
// Sync handlers must be short; they delay the publisher.
func (b *Bus) SubscribeSync(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncHandlers[eventType] = append(b.syncHandlers[eventType], handler)
}

// Publish emits the event to subscribers. It never fails, so the bus can
// stand in for a broker-backed publisher.
func (b *Bus) Publish(event Event) error {
	b.Emit(context.Background(), event)
	return nil
}

// Emit calls every handler registered for the event's type
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	inline := make([]Handler, len(b.syncHandlers[event.Type()]))
	copy(inline, b.syncHandlers[event.Type()])
	b.mu.RUnlock()

	for i, handler := range inline {
		runInline(ctx, handler, i, event)
	}

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Handlers run asynchronously so a slow subscriber never delays the publisher
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

func runInline(ctx context.Context, h Handler, handlerIndex int, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"eventType":    event.Type(),
				"handlerIndex": handlerIndex,
				"panic":        r,
			}).Error("Sync event handler panicked")
		}
	}()
	h(ctx, event)
}
