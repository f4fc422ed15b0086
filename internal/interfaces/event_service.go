package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventBotUpdate carries a reconciled worker callback (*models.CallbackUpdate)
	EventBotUpdate EventType = "bot_update"
	// EventBotLifecycle carries a controller transition (*models.BotEvent)
	EventBotLifecycle EventType = "bot_lifecycle"
	// EventAnalytics carries a periodic analytics snapshot (*models.AnalyticsPeriod)
	EventAnalytics EventType = "analytics_update"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers without waiting
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// SubscriberCount returns how many handlers receive eventType; zero once closed
	SubscriberCount(eventType EventType) int

	// Close shuts down the event service
	Close() error
}
