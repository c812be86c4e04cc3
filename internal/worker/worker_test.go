package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"carvo/internal/broker"
	"carvo/internal/models"
	"carvo/internal/notify"
	"carvo/internal/store/memstore"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []string
	failOn map[string]bool
}

func (s *recordingSink) PublishOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	if s.failOn[event.EventID] {
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, event.EventID)
	return nil
}

func queue(t *testing.T, repo *memstore.Store, eventID, eventType string, payload interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, repo.InsertOutboxEvent(context.Background(), &models.OutboxEvent{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: models.AggregateOrder,
		AggregateID:   1,
		Payload:       body,
	}))
}

func TestNewOutboxRelayDefaults(t *testing.T) {
	r, err := NewOutboxRelay(RelayParams{Store: memstore.New(), Sink: &recordingSink{}})
	require.NoError(t, err)
	assert.Equal(t, 50, r.batchSize)
	assert.Equal(t, 500*time.Millisecond, r.pollInterval)
	assert.Equal(t, 10, r.maxAttempts)

	_, err = NewOutboxRelay(RelayParams{Sink: &recordingSink{}})
	assert.Error(t, err)
	_, err = NewOutboxRelay(RelayParams{Store: memstore.New()})
	assert.Error(t, err)
}

func TestRelayOnce(t *testing.T) {
	repo := memstore.New()
	sink := &recordingSink{failOn: map[string]bool{"bad": true}}
	queue(t, repo, "good", models.EventTypeOrderPlaced, map[string]string{"event_id": "good"})
	queue(t, repo, "bad", models.EventTypeOrderCancelled, map[string]string{"event_id": "bad"})

	r, err := NewOutboxRelay(RelayParams{Store: repo, Sink: sink, MaxAttempts: 2})
	require.NoError(t, err)

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"good"}, sink.events)

	outbox := repo.Outbox()
	require.NotNil(t, outbox[0].PublishedAt)
	assert.Nil(t, outbox[1].PublishedAt)
	assert.Equal(t, 1, outbox[1].AttemptCount)
	require.NotNil(t, outbox[1].LastError)
	assert.Equal(t, "broker unavailable", *outbox[1].LastError)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, repo.Outbox()[1].AttemptCount)

	// Past the attempt limit the row is no longer fetched.
	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	repo := memstore.New()
	sink := &recordingSink{}
	queue(t, repo, "e1", models.EventTypeOrderPlaced, map[string]string{})

	r, err := NewOutboxRelay(RelayParams{Store: repo, Sink: sink, PollInterval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"e1"}, sink.events)
}

func TestNextBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, time.Second, nextBackoff(base, base))
	assert.Equal(t, time.Second, nextBackoff(0, base))
	assert.Equal(t, maxRelayBackoff, nextBackoff(8*time.Second, base))
}

func newNotificationWorker(t *testing.T) (*NotificationWorker, *memstore.Store, int64) {
	t.Helper()
	repo := memstore.New()
	repo.AddUser(models.User{Name: "Ops", Email: "ops@carvo.test", Role: models.RoleAdmin})
	customer := repo.AddUser(models.User{Name: "Asha", Email: "asha@example.com", Role: models.RoleCustomer})
	router := notify.NewRouter(notify.NewDispatcher(repo, nil))
	return NewNotificationWorker(nil, repo, router), repo, customer
}

func TestNotificationWorker_SkipsProcessedEvents(t *testing.T) {
	w, repo, customer := newNotificationWorker(t)
	event := &models.OrderCancelledEvent{
		BaseEvent:  models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderCancelled, Timestamp: time.Now()},
		OrderID:    3,
		CustomerID: customer,
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)
	msg := kafka.Message{Value: body}

	require.NoError(t, w.HandleMessage(context.Background(), msg))
	count := len(repo.Notifications())
	assert.Equal(t, 2, count)

	require.NoError(t, w.HandleMessage(context.Background(), msg))
	assert.Len(t, repo.Notifications(), count)

	processed, err := repo.IsEventProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestNotificationWorker_InProcessSink(t *testing.T) {
	w, repo, customer := newNotificationWorker(t)
	queue(t, repo, "evt-2", models.EventTypeWithdrawalRequested, &models.WithdrawalRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeWithdrawalRequested},
		UserID:    customer,
		Amount:    decimal.RequireFromString("10"),
	})

	r, err := NewOutboxRelay(RelayParams{Store: repo, Sink: w})
	require.NoError(t, err)
	_, err = r.RelayOnce(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, repo.Outbox()[0].PublishedAt)
	assert.Len(t, repo.Notifications(), 2)
}

func TestNotificationWorker_RejectsBadMessages(t *testing.T) {
	w, repo, _ := newNotificationWorker(t)

	assert.Error(t, w.HandleMessage(context.Background(), kafka.Message{Value: []byte("garbage")}))
	assert.Error(t, w.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"ORDER_PLACED"}`)}))

	bad := kafka.Message{Value: []byte(`{"event_id":"evt-3","event_type":"ORDER_PLACED","order_id":"x"}`)}
	assert.Error(t, w.HandleMessage(context.Background(), bad))
	processed, err := repo.IsEventProcessed(context.Background(), "evt-3")
	require.NoError(t, err)
	assert.False(t, processed)

	unknown := kafka.Message{Value: []byte(`{"event_id":"evt-4","event_type":"UNKNOWN"}`)}
	assert.NoError(t, w.HandleMessage(context.Background(), unknown))
}

var _ EventSink = (*broker.EventPublisher)(nil)
var _ EventSink = (*NotificationWorker)(nil)
