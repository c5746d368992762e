package worker

import (
	"context"
	"log"

	"payment-gateway/internal/broker"
	"payment-gateway/internal/models"
	"payment-gateway/internal/service"
)

// WebhookWorker drains queued provider notifications and replays them
// through webhook handling. Providers whose notifications arrive while the
// HTTP path is saturated still settle their payments this way.
type WebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     *service.PaymentService
}

// NewWebhookWorker creates a new webhook worker
func NewWebhookWorker(consumer *broker.Consumer, payments *service.PaymentService) *WebhookWorker {
	eventHandler := broker.NewEventHandler()
	worker := &WebhookWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		payments:     payments,
	}

	eventHandler.OnProviderNotification(func(ctx context.Context, event *models.ProviderNotificationEvent) error {
		log.Printf("Replaying provider notification: provider=%s, event_id=%s",
			event.Provider, event.EventID)
		return worker.payments.HandleWebhook(ctx, event.Provider, event.Payload)
	})

	return worker
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	log.Println("Starting webhook worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	log.Println("Stopping webhook worker...")
	return w.consumer.Close()
}
