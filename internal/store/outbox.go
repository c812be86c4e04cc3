package store

import (
	"context"

	"carvo/internal/models"
)

// InsertOutboxEvent queues an event in the current transaction
func (s *Store) InsertOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (event_id, event_type, aggregate_type, aggregate_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.insert(ctx, event, query,
		event.EventID, event.EventType, event.AggregateType, event.AggregateID, []byte(event.Payload))
}

// FetchUnpublishedOutbox returns the oldest unpublished events still under the attempt limit
func (s *Store) FetchUnpublishedOutbox(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.selectRows(ctx, &events, `
		SELECT * FROM outbox_events
		WHERE published_at IS NULL AND attempt_count < $1
		ORDER BY id
		LIMIT $2`, maxAttempts, limit)
	return events, err
}

// MarkOutboxPublished marks an event as delivered to the broker
func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	return s.execOne(ctx, "UPDATE outbox_events SET published_at = NOW() WHERE id = $1", id)
}

// MarkOutboxFailed records a failed publish attempt
func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, cause error) error {
	return s.execOne(ctx,
		"UPDATE outbox_events SET attempt_count = attempt_count + 1, last_error = $1 WHERE id = $2",
		cause.Error(), id)
}

// CreateNotification inserts an in-app notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, type, title, message, related_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.insert(ctx, n, query, n.UserID, n.Type, n.Title, n.Message, n.RelatedID)
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.exec(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
