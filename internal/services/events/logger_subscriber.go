package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// NewLoggerSubscriber creates an event handler that traces every bus event
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *models.CallbackUpdate:
			logEvent = logEvent.
				Str("session_id", payload.SessionID).
				Str("update_type", string(payload.Type)).
				Int64("generation", payload.Generation)
		case *models.BotEvent:
			logEvent = logEvent.
				Str("session_id", payload.SessionID).
				Str("lifecycle", payload.Type)
		case *models.AnalyticsPeriod:
			logEvent = logEvent.
				Int64("total_jobs", payload.TotalJobs).
				Float64("acceptance_rate", payload.AcceptanceRate)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to every bot event type
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventBotUpdate,
		interfaces.EventBotLifecycle,
		interfaces.EventAnalytics,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
