package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"carvo/internal/models"
)

// HandlerFunc handles one decoded event payload
type HandlerFunc func(ctx context.Context, payload []byte) error

// Router fans domain events out to the users they concern
type Router struct {
	d *Dispatcher
}

func NewRouter(d *Dispatcher) *Router {
	return &Router{d: d}
}

// Handlers returns a handler per event type
func (r *Router) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		models.EventTypeOrderPlaced:         decode(r.orderPlaced),
		models.EventTypeOrderCancelled:      decode(r.orderCancelled),
		models.EventTypeOrderStatusChanged:  decode(r.orderStatusChanged),
		models.EventTypeDeliveryAssigned:    decode(r.deliveryAssigned),
		models.EventTypePaymentConfirmed:    decode(r.paymentConfirmed),
		models.EventTypePaymentFailed:       decode(r.paymentFailed),
		models.EventTypeSettlementCompleted: decode(r.settlement),
		models.EventTypeSettlementStatus:    decode(r.settlement),
		models.EventTypeWithdrawalRequested: decode(r.withdrawalRequested),
		models.EventTypeInvoiceGenerated:    decode(r.invoiceGenerated),
	}
}

func decode[T any](fn func(context.Context, *T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("failed to unmarshal %T: %w", event, err)
		}
		return fn(ctx, &event)
	}
}

func (r *Router) orderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	orderID := &e.OrderID
	amount := e.FinalAmount.StringFixed(2)

	r.d.Notify(ctx, e.CustomerID, TypeOrder, "Order placed",
		fmt.Sprintf("Your order #%d has been placed.", e.OrderID), orderID)
	r.d.Notify(ctx, e.CustomerID, TypePayment, "Payment pending",
		fmt.Sprintf("Complete payment of ₹%s for order #%d.", amount, e.OrderID), orderID)
	r.d.emailUser(ctx, e.CustomerID, fmt.Sprintf("Carvo order #%d confirmed", e.OrderID), tmplOrderConfirmation, e)

	seen := make(map[int64]bool, len(e.SellerIDs))
	for _, sellerID := range e.SellerIDs {
		if seen[sellerID] {
			continue
		}
		seen[sellerID] = true
		r.d.Notify(ctx, sellerID, TypeOrder, "New order",
			fmt.Sprintf("Order #%d includes your parts.", e.OrderID), orderID)
	}

	r.d.NotifyAllAdmins(ctx, TypeOrder, "New order placed",
		fmt.Sprintf("Order #%d for ₹%s was placed.", e.OrderID, amount), orderID)
	return nil
}

func (r *Router) orderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	r.d.Notify(ctx, e.CustomerID, TypeOrder, "Order cancelled",
		fmt.Sprintf("Your order #%d has been cancelled.", e.OrderID), &e.OrderID)
	r.d.NotifyAllAdmins(ctx, TypeOrder, "Order cancelled",
		fmt.Sprintf("Order #%d was cancelled by the customer.", e.OrderID), &e.OrderID)
	return nil
}

func (r *Router) orderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	message := fmt.Sprintf("Your order #%d is now %s.", e.OrderID, e.Status)
	if e.DeliveryOTP != "" {
		message = fmt.Sprintf("Your order #%d is out for delivery. Delivery code: %s.", e.OrderID, e.DeliveryOTP)
		r.d.emailUser(ctx, e.CustomerID, fmt.Sprintf("Carvo order #%d is out for delivery", e.OrderID), tmplDeliveryOTP, e)
	}
	r.d.Notify(ctx, e.CustomerID, TypeDelivery, "Order update", message, &e.OrderID)
	return nil
}

func (r *Router) deliveryAssigned(ctx context.Context, e *models.DeliveryAssignedEvent) error {
	r.d.Notify(ctx, e.AgentID, TypeDelivery, "New delivery",
		fmt.Sprintf("You have been assigned order #%d.", e.OrderID), &e.OrderID)
	r.d.Notify(ctx, e.CustomerID, TypeDelivery, "Delivery agent assigned",
		fmt.Sprintf("A delivery agent has been assigned to order #%d.", e.OrderID), &e.OrderID)
	return nil
}

func (r *Router) paymentConfirmed(ctx context.Context, e *models.PaymentConfirmedEvent) error {
	r.d.Notify(ctx, e.UserID, TypePayment, "Payment received",
		fmt.Sprintf("We received your payment of ₹%s.", e.Amount.StringFixed(2)), &e.PaymentID)
	r.d.NotifyAllAdmins(ctx, TypePayment, "Payment received",
		fmt.Sprintf("Payment #%d of ₹%s via %s completed.", e.PaymentID, e.Amount.StringFixed(2), e.Method), &e.PaymentID)
	return nil
}

func (r *Router) paymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	r.d.Notify(ctx, e.UserID, TypePayment, "Payment failed",
		fmt.Sprintf("Payment #%d failed: %s.", e.PaymentID, e.Reason), &e.PaymentID)
	return nil
}

func (r *Router) settlement(ctx context.Context, e *models.SettlementEvent) error {
	r.d.Notify(ctx, e.CustomerID, TypeSettlement, fmt.Sprintf("%s updated", kindTitle(e.Kind)),
		fmt.Sprintf("Your %s #%d is now %s.", e.Kind, e.EntityID, e.Status), &e.EntityID)

	if e.ProviderID == nil {
		return nil
	}
	if e.EventType == models.EventTypeSettlementCompleted && e.ProviderAmount.IsPositive() {
		r.d.Notify(ctx, *e.ProviderID, TypeWallet, "Earnings credited",
			fmt.Sprintf("₹%s was credited for %s #%d.", e.ProviderAmount.StringFixed(2), e.Kind, e.EntityID), &e.EntityID)
		return nil
	}
	r.d.Notify(ctx, *e.ProviderID, TypeSettlement, fmt.Sprintf("%s updated", kindTitle(e.Kind)),
		fmt.Sprintf("%s #%d is now %s.", kindTitle(e.Kind), e.EntityID, e.Status), &e.EntityID)
	return nil
}

func (r *Router) withdrawalRequested(ctx context.Context, e *models.WithdrawalRequestedEvent) error {
	r.d.Notify(ctx, e.UserID, TypeWallet, "Withdrawal requested",
		fmt.Sprintf("Your withdrawal of ₹%s is being processed.", e.Amount.StringFixed(2)), nil)
	r.d.NotifyAllAdmins(ctx, TypeWallet, "Withdrawal requested",
		fmt.Sprintf("User #%d requested a withdrawal of ₹%s.", e.UserID, e.Amount.StringFixed(2)), &e.UserID)
	return nil
}

func (r *Router) invoiceGenerated(ctx context.Context, e *models.InvoiceGeneratedEvent) error {
	r.d.Notify(ctx, e.CustomerID, TypeInvoice, "Invoice ready",
		fmt.Sprintf("Invoice %s for order #%d is available.", e.InvoiceNumber, e.OrderID), &e.OrderID)
	r.d.emailUser(ctx, e.CustomerID, "Your Carvo invoice "+e.InvoiceNumber, tmplInvoice, e)
	return nil
}

func kindTitle(kind string) string {
	switch kind {
	case models.AggregateQuotation:
		return "Quotation"
	case models.AggregateBooking:
		return "Booking"
	}
	return kind
}
