package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"carvo/internal/models"
	"carvo/internal/util"

	"go.uber.org/zap"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	maxRelayBackoff     = 10 * time.Second
)

// OutboxStore is the outbox slice of the repository
type OutboxStore interface {
	FetchUnpublishedOutbox(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, cause error) error
}

// EventSink receives relayed outbox rows. broker.EventPublisher sends them to
// Kafka; NotificationWorker handles them in-process.
type EventSink interface {
	PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
}

// RelayParams configures an OutboxRelay. Zero values take defaults.
type RelayParams struct {
	Store        OutboxStore
	Sink         EventSink
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// OutboxRelay moves committed outbox rows to the event sink
type OutboxRelay struct {
	store        OutboxStore
	sink         EventSink
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewOutboxRelay(params RelayParams) (*OutboxRelay, error) {
	if params.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if params.Sink == nil {
		return nil, errors.New("event sink is required")
	}

	r := &OutboxRelay{
		store:        params.Store,
		sink:         params.Sink,
		batchSize:    params.BatchSize,
		pollInterval: params.PollInterval,
		maxAttempts:  params.MaxAttempts,
		logger:       util.Component("outbox"),
		sleep:        sleepCtx,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	return r, nil
}

// Run polls until ctx is cancelled. Store errors back off exponentially up
// to maxRelayBackoff.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info("Starting outbox relay",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("max_attempts", r.maxAttempts))

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.RelayOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("Outbox relay batch failed", zap.Error(err))
			backoff = nextBackoff(backoff, r.pollInterval)
			if err := r.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = r.pollInterval

		// A full batch means more rows are probably waiting.
		if n == r.batchSize {
			continue
		}
		if err := r.sleep(ctx, withJitter(r.pollInterval)); err != nil {
			return err
		}
	}
}

// RelayOnce publishes one batch and returns the number of rows attempted
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.store.FetchUnpublishedOutbox(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox: %w", err)
	}

	for i := range events {
		event := &events[i]
		fields := []zap.Field{
			zap.Int64("outbox_id", event.ID),
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
		}

		if err := r.sink.PublishOutboxEvent(ctx, event); err != nil {
			util.OutboxFailedTotal.Inc()
			attempts := event.AttemptCount + 1
			if attempts >= r.maxAttempts {
				r.logger.Warn("Outbox event will not be retried",
					append(fields, zap.Int("attempt_count", attempts), zap.Error(err))...)
			} else {
				r.logger.Warn("Outbox publish failed",
					append(fields, zap.Int("attempt_count", attempts), zap.Error(err))...)
			}
			if markErr := r.store.MarkOutboxFailed(ctx, event.ID, err); markErr != nil {
				return i, fmt.Errorf("mark failure %d: %w", event.ID, markErr)
			}
			continue
		}

		if err := r.store.MarkOutboxPublished(ctx, event.ID); err != nil {
			return i, fmt.Errorf("mark published %d: %w", event.ID, err)
		}
		util.OutboxPublishedTotal.Inc()
		r.logger.Debug("Outbox event published", fields...)
	}
	return len(events), nil
}

func nextBackoff(current, base time.Duration) time.Duration {
	if current < base {
		current = base
	}
	next := current * 2
	if next > maxRelayBackoff {
		return maxRelayBackoff
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
