package events

import (
	"encoding/json"
	"sync"
	"time"

	"ridesched/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventItemEnqueued       = "item_enqueued"
	EventItemSucceeded      = "item_succeeded"
	EventItemRetryScheduled = "item_retry_scheduled"
	EventItemAbandoned      = "item_abandoned"
	EventItemCancelled      = "item_cancelled"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// ItemEventPayload is the queue item snapshot sent to event consumers.
type ItemEventPayload struct {
	ItemID       string     `json:"item_id"`
	Type         string     `json:"type"`
	RideURL      string     `json:"ride_url"`
	RideTitle    string     `json:"ride_title,omitempty"`
	RowNum       int        `json:"row_num,omitempty"`
	UserEmail    string     `json:"user_email,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// NewItemPayload builds the payload for a queue item.
func NewItemPayload(item models.QueueItem) ItemEventPayload {
	p := ItemEventPayload{
		ItemID:       item.ID,
		Type:         string(item.Type),
		RideURL:      item.RideURL,
		RideTitle:    item.RideTitle,
		RowNum:       item.RowNum,
		UserEmail:    item.UserEmail,
		AttemptCount: item.AttemptCount,
		EnqueuedAt:   item.EnqueuedAt,
		LastError:    item.LastError,
	}
	if item.NextRetryAt != nil {
		t := *item.NextRetryAt
		p.NextRetryAt = &t
	}
	return p
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	now         func() time.Time
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged, never
// returned to the publisher.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	bus := &EventBus{
		subscribers: make(map[string][]EventHandler),
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	if logger != nil {
		bus.logger = logger.With().Str("component", "events").Logger()
	}
	return bus
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = b.now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: b.now()})
	return nil
}

// LogHandler writes every event to the logger at debug level.
func LogHandler(logger zerolog.Logger) EventHandler {
	return func(event *Event) error {
		logger.Debug().
			Str("event", event.Type).
			RawJSON("payload", event.Payload).
			Msg("queue event")
		return nil
	}
}
