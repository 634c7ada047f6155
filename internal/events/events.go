package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated       = "booking_created"
	EventBookingStatusChanged = "booking_status_changed"
	EventBookingCancelled     = "booking_cancelled"
	EventPaymentRecorded      = "payment_recorded"
	EventPaymentReleased      = "payment_released"
	EventInvoiceIssued        = "invoice_issued"
	EventContractSaved        = "contract_saved"
	EventTipRequested         = "tip_requested"
	EventTipReceived          = "tip_received"
	EventClientRated          = "client_rated"
	EventMigrationCompleted   = "migration_completed"
	EventVerifyCompleted      = "verification_completed"
)

// AllEventTypes lists every event the CRM publishes.
var AllEventTypes = []string{
	EventBookingCreated,
	EventBookingStatusChanged,
	EventBookingCancelled,
	EventPaymentRecorded,
	EventPaymentReleased,
	EventInvoiceIssued,
	EventContractSaved,
	EventTipRequested,
	EventTipReceived,
	EventClientRated,
	EventMigrationCompleted,
	EventVerifyCompleted,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     int64     `json:"booking_id"`
	ClientID      int64     `json:"client_id"`
	Title         string    `json:"title"`
	ServiceType   string    `json:"service_type"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	StartDate     time.Time `json:"start_date"`
	PrevStatus    string    `json:"prev_status,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Reference     string    `json:"reference,omitempty"`
}

// MigrationEventPayload summarizes a finished backfill or verification.
type MigrationEventPayload struct {
	Kind       string `json:"kind"`
	Total      int64  `json:"total"`
	Processed  int64  `json:"processed"`
	Errors     int    `json:"errors"`
	CountMatch *bool  `json:"count_match,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	b.seq++
	if event.ID == 0 {
		event.ID = b.seq
	}
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Handlers run synchronously; caller decides concurrency model.
	processed := true
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			processed = false
		}
	}
	event.Processed = processed && len(handlers) > 0
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// SubscribeAudit writes every CRM event to logger.
func SubscribeAudit(bus *EventBus, logger *zerolog.Logger) {
	handler := func(event *Event) error {
		logger.Info().
			Int64("event_id", event.ID).
			Str("event", event.Type).
			RawJSON("payload", event.Payload).
			Time("at", event.CreatedAt).
			Msg("audit")
		return nil
	}
	for _, t := range AllEventTypes {
		bus.Subscribe(t, handler)
	}
}
