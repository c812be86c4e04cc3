package service

import (
	"context"
	"strconv"
	"testing"

	"carvo/internal/apperr"
	"carvo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment_COD(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 2)
	orderID := details.Order.ID
	ctx := context.Background()

	result, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, result.Payment.Status)
	assertDec(t, "1000", result.Payment.Amount)
	assert.Empty(t, result.UPILink)
	assert.Regexp(t, `^TXN-[0-9a-f]{8}$`, result.Payment.TransactionID)

	order, err := f.repo.GetOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
}

func TestCreatePayment_UPI(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 2)
	orderID := details.Order.ID
	ctx := context.Background()

	result, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusAwaitingConfirmation, result.Payment.Status)
	assert.Equal(t, "upi://pay?pa=carvo%40upi&pn=Carvo&am=1000.00&cu=INR&tn=Carvo+Order+%23"+strconv.FormatInt(orderID, 10), result.UPILink)

	order, err := f.repo.GetOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestCreatePayment_Rules(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 1)
	orderID := details.Order.ID
	bookingID := f.repo.AddBooking(models.Booking{CustomerID: f.customer, Status: models.BookingStatusPending})
	ctx := context.Background()

	_, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{Method: models.PaymentMethodCOD})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, BookingID: &bookingID, Method: models.PaymentMethodCOD})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodManualSettlement})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = f.payments.Create(ctx, f.seller, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{BookingID: &bookingID, Method: models.PaymentMethodUPI})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState), "unpriced booking")

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
	require.NoError(t, err)
	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState), "order no longer pending")
}

func TestCreatePayment_OneOpenPaymentPerOrder(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 1)
	orderID := details.Order.ID
	ctx := context.Background()

	first, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	assert.Len(t, f.repo.Payments(), 1)

	_, err = f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: first.Payment.TransactionID, Status: "declined"})
	require.NoError(t, err)

	retry, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusAwaitingConfirmation, retry.Payment.Status)
}

func TestCompletePayment_RejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 2)
	orderID := details.Order.ID
	ctx := context.Background()

	created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)
	// Cancelled behind the payment's back, leaving it awaiting confirmation.
	require.NoError(t, f.repo.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled))

	_, err = f.payments.Verify(ctx, created.Payment.ID, true)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))

	payment, err := f.repo.GetPaymentForUpdate(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusAwaitingConfirmation, payment.Status)

	balance, err := f.ledger.Balance(ctx, platformAccount)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), balance.String())
}

func TestCreatePayment_OnePerQuotation(t *testing.T) {
	f := newFixture(t)
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("2500"),
		Status:         models.QuotationStatusAccepted,
	})
	ctx := context.Background()

	_, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{QuotationID: &quotationID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)

	_, err = f.payments.Create(ctx, f.customer, &CreatePaymentRequest{QuotationID: &quotationID, Method: models.PaymentMethodUPI})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	assert.Len(t, f.repo.Payments(), 1)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 2)
	orderID := details.Order.ID
	ctx := context.Background()

	created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)

	_, err = f.payments.Confirm(ctx, f.seller, &ConfirmPaymentRequest{PaymentID: created.Payment.ID, TransactionReference: "ref"})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	payment, err := f.payments.Confirm(ctx, f.customer, &ConfirmPaymentRequest{
		PaymentID:            created.Payment.ID,
		TransactionReference: "UTR123456",
		UPITransactionID:     "upi-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.TransactionReference)
	assert.Equal(t, "UTR123456", *payment.TransactionReference)

	order, err := f.repo.GetOrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)

	balance, err := f.ledger.Balance(ctx, platformAccount)
	require.NoError(t, err)
	assertDec(t, "1000", balance)
	assert.Contains(t, f.outboxTypes(), models.EventTypePaymentConfirmed)

	_, err = f.payments.Confirm(ctx, f.customer, &ConfirmPaymentRequest{PaymentID: created.Payment.ID, TransactionReference: "again"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestConfirmPayment_CODIsNotConfirmable(t *testing.T) {
	f := newFixture(t)
	details := f.placeOrder(t, f.addPart("500", 10), 1)
	orderID := details.Order.ID
	ctx := context.Background()

	created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
	require.NoError(t, err)

	_, err = f.payments.Confirm(ctx, f.customer, &ConfirmPaymentRequest{PaymentID: created.Payment.ID, TransactionReference: "ref"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("approve", func(t *testing.T) {
		details := f.placeOrder(t, f.addPart("500", 10), 1)
		orderID := details.Order.ID
		created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
		require.NoError(t, err)

		payment, err := f.payments.Verify(ctx, created.Payment.ID, true)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusCompleted, payment.Status)

		order, err := f.repo.GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusProcessing, order.Status)

		_, err = f.payments.Verify(ctx, created.Payment.ID, false)
		assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	})

	t.Run("reject reverts processing order", func(t *testing.T) {
		details := f.placeOrder(t, f.addPart("500", 10), 1)
		orderID := details.Order.ID
		created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodCOD})
		require.NoError(t, err)

		payment, err := f.payments.Verify(ctx, created.Payment.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, payment.Status)

		order, err := f.repo.GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := f.payments.Verify(ctx, 4242, true)
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newUPIPayment := func(t *testing.T) (*models.Payment, int64) {
		details := f.placeOrder(t, f.addPart("500", 10), 1)
		orderID := details.Order.ID
		created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{OrderID: &orderID, Method: models.PaymentMethodUPI})
		require.NoError(t, err)
		return created.Payment, orderID
	}

	t.Run("success completes payment and order", func(t *testing.T) {
		payment, orderID := newUPIPayment(t)

		got, err := f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: payment.TransactionID, Status: "success"})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusCompleted, got.Status)

		order, err := f.repo.GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusProcessing, order.Status)

		outboxBefore := len(f.repo.Outbox())
		again, err := f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: payment.TransactionID, Status: "success"})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusCompleted, again.Status)
		assert.Len(t, f.repo.Outbox(), outboxBefore)
	})

	t.Run("failure leaves order untouched", func(t *testing.T) {
		payment, orderID := newUPIPayment(t)

		got, err := f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: payment.TransactionID, Status: "declined"})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, got.Status)

		order, err := f.repo.GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)

		_, err = f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: payment.TransactionID, Status: "success"})
		assert.True(t, apperr.Is(err, apperr.CodeInvalidState))
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := f.payments.Webhook(ctx, "", &WebhookRequest{TransactionID: "TXN-nope", Status: "success"})
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("secret", func(t *testing.T) {
		guarded := NewPaymentService(f.repo, f.ledger, PaymentSettings{WebhookSecret: "s3cret"})
		payment, _ := newUPIPayment(t)

		_, err := guarded.Webhook(ctx, "wrong", &WebhookRequest{TransactionID: payment.TransactionID, Status: "success"})
		assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

		_, err = guarded.Webhook(ctx, "s3cret", &WebhookRequest{TransactionID: payment.TransactionID, Status: "success"})
		assert.NoError(t, err)
	})
}
