package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"payment-gateway/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing payment lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentSucceeded publishes PaymentSucceeded event
func (ep *EventPublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	return ep.producer.PublishEvent(ctx, event.PaymentID, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, event.PaymentID, event)
}

// PublishPaymentRefunded publishes PaymentRefunded event
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	return ep.producer.PublishEvent(ctx, event.PaymentID, event)
}

// PublishPaymentCancelled publishes PaymentCancelled event
func (ep *EventPublisher) PublishPaymentCancelled(ctx context.Context, event *models.PaymentCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, event.PaymentID, event)
}

// PublishProviderNotification enqueues a raw provider webhook payload for
// asynchronous handling
func (ep *EventPublisher) PublishProviderNotification(ctx context.Context, event *models.ProviderNotificationEvent) error {
	return ep.producer.PublishEvent(ctx, string(event.Provider), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onProviderNotification func(context.Context, *models.ProviderNotificationEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnProviderNotification registers a handler for ProviderNotification events
func (eh *EventHandler) OnProviderNotification(handler func(context.Context, *models.ProviderNotificationEvent) error) {
	eh.onProviderNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeProviderNotification:
		if eh.onProviderNotification != nil {
			var event models.ProviderNotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProviderNotification event: %w", err)
			}
			return eh.onProviderNotification(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
