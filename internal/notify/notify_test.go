package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"carvo/internal/models"
	"carvo/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, subject, html string
}

type recordingMailer struct {
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, html string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

type env struct {
	repo     *memstore.Store
	mailer   *recordingMailer
	handlers map[string]HandlerFunc

	admin, customer, seller, otherSeller, agent, provider int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := memstore.New()
	e := &env{repo: repo, mailer: &recordingMailer{}}
	e.admin = repo.AddUser(models.User{Name: "Ops", Email: "ops@carvo.test", Role: models.RoleAdmin})
	e.customer = repo.AddUser(models.User{Name: "Asha", Email: "asha@example.com", Role: models.RoleCustomer})
	e.seller = repo.AddUser(models.User{Name: "Tuner Shop", Email: "shop@example.com", Role: models.RoleSeller})
	e.otherSeller = repo.AddUser(models.User{Name: "Rim House", Email: "rims@example.com", Role: models.RoleSeller})
	e.agent = repo.AddUser(models.User{Name: "Ravi", Email: "ravi@example.com", Role: models.RoleDeliveryAgent})
	e.provider = repo.AddUser(models.User{Name: "Wrap Studio", Email: "wrap@example.com", Role: models.RoleServiceProvider})
	e.handlers = NewRouter(NewDispatcher(repo, e.mailer)).Handlers()
	return e
}

func (e *env) dispatch(t *testing.T, eventType string, event interface{}) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	handler, ok := e.handlers[eventType]
	require.True(t, ok, "no handler for %s", eventType)
	require.NoError(t, handler(context.Background(), payload))
}

func (e *env) notificationsFor(userID int64) []models.Notification {
	var out []models.Notification
	for _, n := range e.repo.Notifications() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func base(eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: "evt-" + eventType, EventType: eventType, Timestamp: time.Now()}
}

func TestOrderPlacedFanOut(t *testing.T) {
	e := newEnv(t)

	e.dispatch(t, models.EventTypeOrderPlaced, &models.OrderPlacedEvent{
		BaseEvent:   base(models.EventTypeOrderPlaced),
		OrderID:     7,
		CustomerID:  e.customer,
		FinalAmount: decimal.RequireFromString("1000"),
		SellerIDs:   []int64{e.seller, e.otherSeller, e.seller},
		Items: []models.OrderItemData{
			{PartID: 3, Quantity: 2, Price: decimal.RequireFromString("500")},
		},
	})

	customer := e.notificationsFor(e.customer)
	require.Len(t, customer, 2)
	assert.Equal(t, TypeOrder, customer[0].Type)
	assert.Equal(t, TypePayment, customer[1].Type)
	assert.Contains(t, customer[1].Message, "₹1000.00")
	require.NotNil(t, customer[0].RelatedID)
	assert.Equal(t, int64(7), *customer[0].RelatedID)

	assert.Len(t, e.notificationsFor(e.seller), 1)
	assert.Len(t, e.notificationsFor(e.otherSeller), 1)
	assert.Len(t, e.notificationsFor(e.admin), 1)
	assert.Empty(t, e.notificationsFor(e.agent))

	require.Len(t, e.mailer.sent, 1)
	assert.Equal(t, "asha@example.com", e.mailer.sent[0].to)
	assert.Contains(t, e.mailer.sent[0].subject, "#7")
	assert.Contains(t, e.mailer.sent[0].html, "&#8377;1000.00")
	assert.Contains(t, e.mailer.sent[0].html, "Part #3")
}

func TestStatusChangeCarriesDeliveryCode(t *testing.T) {
	e := newEnv(t)

	e.dispatch(t, models.EventTypeOrderStatusChanged, &models.OrderStatusChangedEvent{
		BaseEvent:   base(models.EventTypeOrderStatusChanged),
		OrderID:     9,
		CustomerID:  e.customer,
		Status:      models.OrderStatusOutForDelivery,
		DeliveryOTP: "042917",
	})

	customer := e.notificationsFor(e.customer)
	require.Len(t, customer, 1)
	assert.Contains(t, customer[0].Message, "042917")
	require.Len(t, e.mailer.sent, 1)
	assert.Contains(t, e.mailer.sent[0].html, "042917")

	e.dispatch(t, models.EventTypeOrderStatusChanged, &models.OrderStatusChangedEvent{
		BaseEvent:  base(models.EventTypeOrderStatusChanged),
		OrderID:    9,
		CustomerID: e.customer,
		Status:     models.OrderStatusDelivered,
	})
	customer = e.notificationsFor(e.customer)
	require.Len(t, customer, 2)
	assert.Equal(t, "Your order #9 is now delivered.", customer[1].Message)
	assert.Len(t, e.mailer.sent, 1)
}

func TestDeliveryAssigned(t *testing.T) {
	e := newEnv(t)

	e.dispatch(t, models.EventTypeDeliveryAssigned, &models.DeliveryAssignedEvent{
		BaseEvent:  base(models.EventTypeDeliveryAssigned),
		OrderID:    4,
		CustomerID: e.customer,
		AgentID:    e.agent,
	})

	assert.Len(t, e.notificationsFor(e.agent), 1)
	assert.Len(t, e.notificationsFor(e.customer), 1)
}

func TestSettlementNotifications(t *testing.T) {
	e := newEnv(t)
	provider := e.provider

	e.dispatch(t, models.EventTypeSettlementCompleted, &models.SettlementEvent{
		BaseEvent:      base(models.EventTypeSettlementCompleted),
		Kind:           models.AggregateQuotation,
		EntityID:       11,
		CustomerID:     e.customer,
		ProviderID:     &provider,
		Status:         models.QuotationStatusCompleted,
		Amount:         decimal.RequireFromString("1000"),
		ProviderAmount: decimal.RequireFromString("900"),
	})

	require.Len(t, e.notificationsFor(e.customer), 1)
	providerNotes := e.notificationsFor(e.provider)
	require.Len(t, providerNotes, 1)
	assert.Equal(t, TypeWallet, providerNotes[0].Type)
	assert.Contains(t, providerNotes[0].Message, "₹900.00")

	e.dispatch(t, models.EventTypeSettlementStatus, &models.SettlementEvent{
		BaseEvent:  base(models.EventTypeSettlementStatus),
		Kind:       models.AggregateBooking,
		EntityID:   12,
		CustomerID: e.customer,
		Status:     models.BookingStatusConfirmed,
	})
	customer := e.notificationsFor(e.customer)
	require.Len(t, customer, 2)
	assert.Equal(t, "Booking updated", customer[1].Title)
	assert.Len(t, e.notificationsFor(e.provider), 1)
}

func TestWithdrawalAndPaymentNotices(t *testing.T) {
	e := newEnv(t)
	orderID := int64(5)

	e.dispatch(t, models.EventTypeWithdrawalRequested, &models.WithdrawalRequestedEvent{
		BaseEvent: base(models.EventTypeWithdrawalRequested),
		UserID:    e.provider,
		Amount:    decimal.RequireFromString("250"),
	})
	e.dispatch(t, models.EventTypePaymentConfirmed, &models.PaymentConfirmedEvent{
		BaseEvent: base(models.EventTypePaymentConfirmed),
		PaymentID: 2,
		OrderID:   &orderID,
		UserID:    e.customer,
		Amount:    decimal.RequireFromString("1000"),
		Method:    models.PaymentMethodUPI,
	})
	e.dispatch(t, models.EventTypePaymentFailed, &models.PaymentFailedEvent{
		BaseEvent: base(models.EventTypePaymentFailed),
		PaymentID: 3,
		UserID:    e.customer,
		Reason:    "declined",
	})

	assert.Len(t, e.notificationsFor(e.provider), 1)
	assert.Len(t, e.notificationsFor(e.admin), 2)
	customer := e.notificationsFor(e.customer)
	require.Len(t, customer, 2)
	assert.Equal(t, "Payment failed", customer[1].Title)
}

func TestDispatcherNeverFailsCaller(t *testing.T) {
	e := newEnv(t)
	e.mailer.err = errors.New("smtp down")
	e.repo.FailOn("CreateNotification", errors.New("db down"))

	e.dispatch(t, models.EventTypeInvoiceGenerated, &models.InvoiceGeneratedEvent{
		BaseEvent:     base(models.EventTypeInvoiceGenerated),
		InvoiceID:     1,
		InvoiceNumber: "INV-20260101-0001",
		OrderID:       1,
		CustomerID:    e.customer,
		Total:         decimal.RequireFromString("1100"),
	})

	assert.Empty(t, e.repo.Notifications())
	assert.Empty(t, e.mailer.sent)
}

func TestNotifyUnknownUserIsLogged(t *testing.T) {
	e := newEnv(t)
	d := NewDispatcher(e.repo, e.mailer)

	d.Notify(context.Background(), 4242, TypeOrder, "x", "y", nil)

	assert.Empty(t, e.repo.Notifications())
}

func TestMalformedPayload(t *testing.T) {
	e := newEnv(t)

	err := e.handlers[models.EventTypeOrderPlaced](context.Background(), []byte("{not json"))

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "OrderPlacedEvent"))
}
