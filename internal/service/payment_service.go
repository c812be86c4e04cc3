package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/store"
	"carvo/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentSettings configures the UPI merchant and webhook authentication
type PaymentSettings struct {
	MerchantVPA   string
	MerchantName  string
	WebhookSecret string
}

// PaymentService drives the payment state machine
type PaymentService struct {
	repo     store.Repository
	ledger   *LedgerService
	settings PaymentSettings
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, ledger *LedgerService, settings PaymentSettings) *PaymentService {
	return &PaymentService{
		repo:     repo,
		ledger:   ledger,
		settings: settings,
		logger:   util.Component("payment"),
	}
}

// CreatePaymentRequest targets exactly one of order, booking or quotation
type CreatePaymentRequest struct {
	OrderID     *int64 `json:"order_id,omitempty"`
	BookingID   *int64 `json:"booking_id,omitempty"`
	QuotationID *int64 `json:"quotation_id,omitempty"`
	Method      string `json:"method" binding:"required,payment_method"`
}

// ConfirmPaymentRequest carries the customer's UPI references
type ConfirmPaymentRequest struct {
	PaymentID            int64  `json:"payment_id" binding:"required"`
	TransactionReference string `json:"transaction_reference" binding:"required"`
	UPITransactionID     string `json:"upi_transaction_id"`
}

// WebhookRequest is a gateway callback
type WebhookRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
}

// PaymentResult is a payment plus the UPI deep link for upi payments
type PaymentResult struct {
	Payment *models.Payment `json:"payment"`
	UPILink string          `json:"upi_link,omitempty"`
}

// payable is the entity a payment settles.
type payable struct {
	ownerID int64
	amount  decimal.Decimal
	memo    string
	order   *models.Order
}

// Create records a new payment. UPI payments wait for customer
// confirmation; COD payments move the order to processing immediately.
func (ps *PaymentService) Create(ctx context.Context, userID int64, req *CreatePaymentRequest) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Create")
	defer span.End()

	targets := 0
	for _, id := range []*int64{req.OrderID, req.BookingID, req.QuotationID} {
		if id != nil {
			targets++
		}
	}
	if targets != 1 {
		return nil, apperr.Validation("exactly one of order_id, booking_id or quotation_id is required")
	}
	if req.Method != models.PaymentMethodUPI && req.Method != models.PaymentMethodCOD {
		return nil, apperr.Validation("unsupported payment method %q", req.Method)
	}

	result := &PaymentResult{}
	err := ps.repo.InTx(ctx, func(tx store.Repository) error {
		target, err := ps.resolvePayable(ctx, tx, req)
		if err != nil {
			return err
		}
		if target.ownerID != userID {
			return apperr.Forbidden("not allowed to pay for this item")
		}

		payment := &models.Payment{
			OrderID:       req.OrderID,
			BookingID:     req.BookingID,
			QuotationID:   req.QuotationID,
			Amount:        target.amount,
			Method:        req.Method,
			TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()[:8]),
		}

		switch req.Method {
		case models.PaymentMethodUPI:
			payment.Status = models.PaymentStatusAwaitingConfirmation
			result.UPILink = ps.UPILink(target.amount, target.memo)
		case models.PaymentMethodCOD:
			payment.Status = models.PaymentStatusPending
			if target.order != nil {
				if err := tx.UpdateOrderStatus(ctx, target.order.ID, models.OrderStatusProcessing); err != nil {
					return fmt.Errorf("failed to update order status: %w", err)
				}
			}
		}

		if err := tx.CreatePayment(ctx, payment); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("a payment already exists for this item")
			}
			return fmt.Errorf("failed to create payment: %w", err)
		}

		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentsTotal.WithLabelValues(result.Payment.Method, result.Payment.Status).Inc()
	ps.logger.Info("Payment created",
		zap.Int64("payment_id", result.Payment.ID),
		zap.String("method", result.Payment.Method),
		zap.String("transaction_id", result.Payment.TransactionID))
	return result, nil
}

func (ps *PaymentService) resolvePayable(ctx context.Context, tx store.Repository, req *CreatePaymentRequest) (*payable, error) {
	switch {
	case req.OrderID != nil:
		order, err := tx.GetOrderForUpdate(ctx, *req.OrderID)
		if err != nil {
			return nil, notFoundAs(err, "order %d not found", *req.OrderID)
		}
		if order.Status != models.OrderStatusPending {
			return nil, apperr.InvalidState("order is not awaiting payment (status %s)", order.Status)
		}
		open, err := tx.FindOpenPaymentByOrderID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load order payment: %w", err)
		}
		if open != nil {
			return nil, apperr.Conflict("order %d already has a %s payment", order.ID, open.Status)
		}
		return &payable{
			ownerID: order.CustomerID,
			amount:  order.FinalAmount,
			memo:    fmt.Sprintf("Carvo Order #%d", order.ID),
			order:   order,
		}, nil

	case req.BookingID != nil:
		booking, err := tx.GetBookingForUpdate(ctx, *req.BookingID)
		if err != nil {
			return nil, notFoundAs(err, "booking %d not found", *req.BookingID)
		}
		if booking.Price == nil {
			return nil, apperr.InvalidState("booking %d has no price yet", booking.ID)
		}
		return &payable{
			ownerID: booking.CustomerID,
			amount:  *booking.Price,
			memo:    fmt.Sprintf("Carvo Booking #%d", booking.ID),
		}, nil

	default:
		quotation, err := tx.GetQuotationForUpdate(ctx, *req.QuotationID)
		if err != nil {
			return nil, notFoundAs(err, "quotation %d not found", *req.QuotationID)
		}
		if quotation.EstimatedPrice == nil {
			return nil, apperr.InvalidState("quotation %d has no price yet", quotation.ID)
		}
		return &payable{
			ownerID: quotation.CustomerID,
			amount:  *quotation.EstimatedPrice,
			memo:    fmt.Sprintf("Carvo Quotation #%d", quotation.ID),
		}, nil
	}
}

// UPILink builds a upi://pay deep link for the configured merchant
func (ps *PaymentService) UPILink(amount decimal.Decimal, memo string) string {
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=INR&tn=%s",
		url.QueryEscape(ps.settings.MerchantVPA),
		url.QueryEscape(ps.settings.MerchantName),
		amount.StringFixed(2),
		url.QueryEscape(memo))
}

// Confirm records the customer's UPI references and completes the payment.
// No gateway verification is performed.
func (ps *PaymentService) Confirm(ctx context.Context, userID int64, req *ConfirmPaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm")
	defer span.End()

	var confirmed *models.Payment
	err := ps.repo.InTx(ctx, func(tx store.Repository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, req.PaymentID)
		if err != nil {
			return notFoundAs(err, "payment %d not found", req.PaymentID)
		}

		ownerID, err := paymentOwner(ctx, tx, payment)
		if err != nil {
			return err
		}
		if ownerID != userID {
			return apperr.Forbidden("not allowed to confirm this payment")
		}
		if payment.Status != models.PaymentStatusAwaitingConfirmation {
			return apperr.InvalidState("payment cannot be confirmed in status %s", payment.Status)
		}

		ref := req.TransactionReference
		payment.TransactionReference = &ref
		if req.UPITransactionID != "" {
			upiID := req.UPITransactionID
			payment.UPITransactionID = &upiID
		}

		if err := ps.complete(ctx, tx, payment, ownerID); err != nil {
			return err
		}
		confirmed = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logCompletion(confirmed, "customer_confirmation")
	return confirmed, nil
}

// Verify is an admin decision on a non-terminal payment
func (ps *PaymentService) Verify(ctx context.Context, paymentID int64, approved bool) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Verify")
	defer span.End()

	var verified *models.Payment
	err := ps.repo.InTx(ctx, func(tx store.Repository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return notFoundAs(err, "payment %d not found", paymentID)
		}
		if models.IsTerminalPayment(payment.Status) {
			return apperr.InvalidState("payment is already %s", payment.Status)
		}

		ownerID, err := paymentOwner(ctx, tx, payment)
		if err != nil {
			return err
		}

		if approved {
			err = ps.complete(ctx, tx, payment, ownerID)
		} else {
			err = ps.fail(ctx, tx, payment, ownerID, "rejected by admin", true)
		}
		if err != nil {
			return err
		}
		verified = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logCompletion(verified, "admin_verification")
	return verified, nil
}

// Webhook applies a gateway outcome. Redelivery of an outcome already
// applied is a no-op.
func (ps *PaymentService) Webhook(ctx context.Context, secret string, req *WebhookRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Webhook")
	defer span.End()

	if ps.settings.WebhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(secret), []byte(ps.settings.WebhookSecret)) != 1 {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid webhook secret")
	}

	outcome := models.PaymentStatusFailed
	if req.Status == "success" {
		outcome = models.PaymentStatusCompleted
	}

	var payment *models.Payment
	applied := false
	err := ps.repo.InTx(ctx, func(tx store.Repository) error {
		var err error
		payment, err = tx.GetPaymentByTransactionID(ctx, req.TransactionID)
		if err != nil {
			return notFoundAs(err, "payment with transaction %s not found", req.TransactionID)
		}
		if payment.Status == outcome {
			return nil
		}
		if models.IsTerminalPayment(payment.Status) {
			return apperr.InvalidState("payment is already %s", payment.Status)
		}

		ownerID, err := paymentOwner(ctx, tx, payment)
		if err != nil {
			return err
		}

		if outcome == models.PaymentStatusCompleted {
			err = ps.complete(ctx, tx, payment, ownerID)
		} else {
			err = ps.fail(ctx, tx, payment, ownerID, fmt.Sprintf("gateway reported %s", req.Status), false)
		}
		applied = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if applied {
		ps.logCompletion(payment, "webhook")
	} else {
		ps.logger.Info("Webhook redelivery ignored", zap.String("transaction_id", req.TransactionID))
	}
	return payment, nil
}

// complete marks payment completed, advances a pending order to processing
// and books the order payment on the platform account.
func (ps *PaymentService) complete(ctx context.Context, tx store.Repository, payment *models.Payment, ownerID int64) error {
	var order *models.Order
	if payment.OrderID != nil {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, *payment.OrderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", *payment.OrderID)
		}
		if order.Status == models.OrderStatusCancelled {
			return apperr.InvalidState("order %d is cancelled", order.ID)
		}
	}

	payment.Status = models.PaymentStatusCompleted
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if order != nil {
		if order.Status == models.OrderStatusPending {
			if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusProcessing); err != nil {
				return fmt.Errorf("failed to update order status: %w", err)
			}
		}
		if err := ps.ledger.recordOrderPayment(ctx, tx, order.ID, payment.Amount); err != nil {
			return err
		}
	}

	base := newBaseEvent(models.EventTypePaymentConfirmed)
	return emit(ctx, tx, models.AggregatePayment, payment.ID, base, &models.PaymentConfirmedEvent{
		BaseEvent: base,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    ownerID,
		Amount:    payment.Amount,
		Method:    payment.Method,
	})
}

// fail marks payment failed. With revertOrder a processing order returns to pending.
func (ps *PaymentService) fail(ctx context.Context, tx store.Repository, payment *models.Payment, ownerID int64, reason string, revertOrder bool) error {
	payment.Status = models.PaymentStatusFailed
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if revertOrder && payment.OrderID != nil {
		order, err := tx.GetOrderForUpdate(ctx, *payment.OrderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", *payment.OrderID)
		}
		if order.Status == models.OrderStatusProcessing {
			if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending); err != nil {
				return fmt.Errorf("failed to update order status: %w", err)
			}
		}
	}

	base := newBaseEvent(models.EventTypePaymentFailed)
	return emit(ctx, tx, models.AggregatePayment, payment.ID, base, &models.PaymentFailedEvent{
		BaseEvent: base,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    ownerID,
		Reason:    reason,
	})
}

// paymentOwner resolves the customer behind a payment's target.
func paymentOwner(ctx context.Context, tx store.Repository, payment *models.Payment) (int64, error) {
	switch {
	case payment.OrderID != nil:
		order, err := tx.GetOrderByID(ctx, *payment.OrderID)
		if err != nil {
			return 0, notFoundAs(err, "order %d not found", *payment.OrderID)
		}
		return order.CustomerID, nil
	case payment.BookingID != nil:
		booking, err := tx.GetBookingForUpdate(ctx, *payment.BookingID)
		if err != nil {
			return 0, notFoundAs(err, "booking %d not found", *payment.BookingID)
		}
		return booking.CustomerID, nil
	case payment.QuotationID != nil:
		quotation, err := tx.GetQuotationForUpdate(ctx, *payment.QuotationID)
		if err != nil {
			return 0, notFoundAs(err, "quotation %d not found", *payment.QuotationID)
		}
		return quotation.CustomerID, nil
	}
	return 0, fmt.Errorf("payment %d has no target", payment.ID)
}

func (ps *PaymentService) logCompletion(payment *models.Payment, via string) {
	util.PaymentsTotal.WithLabelValues(payment.Method, payment.Status).Inc()
	ps.logger.Info("Payment transitioned",
		zap.Int64("payment_id", payment.ID),
		zap.String("status", payment.Status),
		zap.String("via", via))
}
