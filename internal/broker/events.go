package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"carvo/internal/models"
	"carvo/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message header names set on every relayed event
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Publisher sends one encoded message. Implemented by Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// EventPublisher publishes outbox rows to the domain events topic
type EventPublisher struct {
	publisher Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(publisher Publisher) *EventPublisher {
	return &EventPublisher{publisher: publisher}
}

// EventKey is the partition key of an outbox row, e.g. "order-42"
func EventKey(event *models.OutboxEvent) string {
	return fmt.Sprintf("%s-%d", event.AggregateType, event.AggregateID)
}

// PublishOutboxEvent publishes the stored payload unchanged
func (ep *EventPublisher) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return ep.publisher.Publish(ctx, EventKey(event), event.Payload, map[string]string{
		HeaderEventID:   event.EventID,
		HeaderEventType: event.EventType,
	})
}

// HandlerFunc handles the raw payload of one event type
type HandlerFunc func(ctx context.Context, payload []byte) error

// EventHandler routes incoming events by type
type EventHandler struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: make(map[string]HandlerFunc),
		logger:   util.Component("events"),
	}
}

// On registers handler for eventType, replacing any previous one
func (eh *EventHandler) On(eventType string, handler HandlerFunc) {
	eh.handlers[eventType] = handler
}

// Handles reports whether a handler is registered for eventType
func (eh *EventHandler) Handles(eventType string) bool {
	_, ok := eh.handlers[eventType]
	return ok
}

// Handle dispatches payload to the handler for eventType. Unknown types are
// logged and ignored.
func (eh *EventHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	handler, ok := eh.handlers[eventType]
	if !ok {
		eh.logger.Debug("Unhandled event type", zap.String("event_type", eventType))
		return nil
	}
	return handler(ctx, payload)
}

// DecodeBase reads the common envelope fields of a message
func DecodeBase(msg kafka.Message) (models.BaseEvent, error) {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return base, fmt.Errorf("failed to unmarshal base event: %w", err)
	}
	if base.EventID == "" || base.EventType == "" {
		for _, h := range msg.Headers {
			switch h.Key {
			case HeaderEventID:
				if base.EventID == "" {
					base.EventID = string(h.Value)
				}
			case HeaderEventType:
				if base.EventType == "" {
					base.EventType = string(h.Value)
				}
			}
		}
	}
	return base, nil
}

// HandleMessage decodes msg and routes it
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	base, err := DecodeBase(msg)
	if err != nil {
		return err
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", base.EventType),
		zap.String("event_id", base.EventID))
	return eh.Handle(ctx, base.EventType, msg.Value)
}
