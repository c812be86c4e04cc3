package worker

import (
	"context"
	"fmt"

	"carvo/internal/broker"
	"carvo/internal/models"
	"carvo/internal/notify"
	"carvo/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProcessedStore records which events have already been handled
type ProcessedStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker consumes domain events and turns them into
// notifications. Each event id is handled at most once.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        ProcessedStore
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker. consumer may be nil when events
// are delivered in-process through PublishOutboxEvent.
func NewNotificationWorker(consumer *broker.Consumer, store ProcessedStore, router *notify.Router) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	for eventType, handler := range router.Handlers() {
		eventHandler.On(eventType, broker.HandlerFunc(handler))
	}

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		store:        store,
		logger:       util.Component("notification-worker"),
	}
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return fmt.Errorf("notification worker has no consumer")
	}
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	if w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

// HandleMessage processes one Kafka message
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	base, err := broker.DecodeBase(msg)
	if err != nil {
		return err
	}
	return w.Process(ctx, base.EventID, base.EventType, msg.Value)
}

// PublishOutboxEvent handles an outbox row directly, for deployments without a broker
func (w *NotificationWorker) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return w.Process(ctx, event.EventID, event.EventType, event.Payload)
}

// Process handles payload unless eventID was already processed
func (w *NotificationWorker) Process(ctx context.Context, eventID, eventType string, payload []byte) error {
	if eventID == "" {
		return fmt.Errorf("event of type %q has no event id", eventType)
	}

	processed, err := w.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	if processed {
		w.logger.Debug("Event already processed, skipping",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType))
		return nil
	}

	if err := w.eventHandler.Handle(ctx, eventType, payload); err != nil {
		return fmt.Errorf("failed to handle %s %s: %w", eventType, eventID, err)
	}

	if err := w.store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return nil
}
