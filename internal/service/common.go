package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/redisclient"
	"carvo/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Locker is a best-effort distributed lock. Implemented by redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

const lockTTL = 30 * time.Second

// withLock runs fn while holding key. A held lock is a Conflict; a lock
// backend failure is logged and fn runs anyway, since row locks and unique
// indexes still apply.
func withLock(ctx context.Context, locker Locker, logger *zap.Logger, key string, fn func() error) error {
	if locker == nil {
		return fn()
	}

	token, err := locker.AcquireLock(ctx, key, lockTTL)
	if errors.Is(err, redisclient.ErrLockHeld) {
		return apperr.Conflict("%s is already being processed", key)
	}
	if err != nil {
		logger.Warn("Lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return fn()
	}

	defer func() {
		if err := locker.ReleaseLock(context.Background(), key, token); err != nil {
			logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// emit queues event in the outbox inside tx.
func emit(ctx context.Context, tx store.Repository, aggregateType string, aggregateID int64, base models.BaseEvent, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", base.EventType, err)
	}

	return tx.InsertOutboxEvent(ctx, &models.OutboxEvent{
		EventID:       base.EventID,
		EventType:     base.EventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
	})
}

// notFoundAs converts store.ErrNotFound into an apperr NotFound with msg.
func notFoundAs(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func int64Ptr(v int64) *int64 {
	return &v
}
