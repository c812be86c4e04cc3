package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/store"
	"carvo/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	repo     store.Repository
	invoices *InvoiceService
	locker   Locker
	logger   *zap.Logger
}

// NewOrderService creates a new order service. locker may be nil.
func NewOrderService(repo store.Repository, invoices *InvoiceService, locker Locker) *OrderService {
	return &OrderService{
		repo:     repo,
		invoices: invoices,
		locker:   locker,
		logger:   util.Component("order"),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	ShippingAddress string             `json:"shipping_address" binding:"required"`
	CouponCode      *string            `json:"coupon_code,omitempty"`
	DiscountAmount  *decimal.Decimal   `json:"discount_amount,omitempty"`
	FinalAmount     *decimal.Decimal   `json:"final_amount,omitempty"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	PartID   int64 `json:"part_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

// OrderDetails is an order with its line items
type OrderDetails struct {
	Order *models.Order      `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// PlaceOrder decrements stock for every line and records the order in one
// transaction. A repeated idempotency key returns the original order.
func (s *OrderService) PlaceOrder(ctx context.Context, customerID int64, req *PlaceOrderRequest) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if err := validatePlaceOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var (
		details *OrderDetails
		created bool
	)
	place := func() error {
		var err error
		details, created, err = s.placeInTx(ctx, customerID, req)
		return err
	}

	var err error
	if req.IdempotencyKey != "" {
		err = withLock(ctx, s.locker, s.logger, fmt.Sprintf("order-idem:%d:%s", customerID, req.IdempotencyKey), place)
	} else {
		err = place()
	}

	if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
		// Lost the race on the idempotency key index to a concurrent request.
		details, err = s.findByIdempotencyKey(ctx, customerID, req.IdempotencyKey)
		created = false
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	if !created {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", details.Order.ID))
		return details, nil
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", details.Order.ID),
		zap.Int64("customer_id", customerID),
		zap.String("final_amount", details.Order.FinalAmount.StringFixed(2)))

	if _, _, err := s.invoices.ensure(ctx, details.Order.ID); err != nil {
		s.logger.Error("Failed to generate invoice for new order",
			zap.Int64("order_id", details.Order.ID),
			zap.Error(err))
	}

	return details, nil
}

func validatePlaceOrder(req *PlaceOrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return apperr.Validation("quantity for part %d must be at least 1", item.PartID)
		}
	}
	if req.ShippingAddress == "" {
		return apperr.Validation("shipping address is required")
	}
	return nil
}

func failureReason(err error) string {
	if typed := apperr.As(err); typed != nil {
		return string(typed.Code())
	}
	return "internal"
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, customerID int64, key string) (*OrderDetails, error) {
	order, err := s.repo.FindOrderByIdempotencyKey(ctx, customerID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if order == nil {
		return nil, apperr.Conflict("order with idempotency key %s is being processed", key)
	}
	items, err := s.repo.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return &OrderDetails{Order: order, Items: items}, nil
}

func (s *OrderService) placeInTx(ctx context.Context, customerID int64, req *PlaceOrderRequest) (*OrderDetails, bool, error) {
	var (
		details *OrderDetails
		created bool
	)

	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindOrderByIdempotencyKey(ctx, customerID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to check idempotency: %w", err)
			}
			if existing != nil {
				items, err := tx.GetOrderItemsByOrderID(ctx, existing.ID)
				if err != nil {
					return fmt.Errorf("failed to load order items: %w", err)
				}
				details = &OrderDetails{Order: existing, Items: items}
				return nil
			}
		}

		items := make([]models.OrderItem, 0, len(req.Items))
		sellers := make(map[int64]struct{})
		sellerIDs := make([]int64, 0, len(req.Items))
		for _, line := range req.Items {
			part, err := tx.GetPartByID(ctx, line.PartID)
			if err != nil {
				return notFoundAs(err, "part %d not found", line.PartID)
			}

			ok, err := tx.DecrementStock(ctx, line.PartID, line.Quantity)
			if err != nil {
				return fmt.Errorf("failed to decrement stock for part %d: %w", line.PartID, err)
			}
			if !ok {
				util.StockConflictsTotal.Inc()
				return apperr.Newf(apperr.CodeInsufficientStock,
					"insufficient stock for part %s (requested %d)", part.Name, line.Quantity)
			}

			items = append(items, models.OrderItem{
				PartID:   part.ID,
				Quantity: line.Quantity,
				Price:    part.Price,
			})
			if _, seen := sellers[part.SellerID]; !seen {
				sellers[part.SellerID] = struct{}{}
				sellerIDs = append(sellerIDs, part.SellerID)
			}
		}

		total := calculateTotal(items)
		final, err := resolveFinalAmount(total, req.DiscountAmount, req.FinalAmount)
		if err != nil {
			return err
		}

		order := &models.Order{
			CustomerID:      customerID,
			TotalAmount:     total,
			DiscountAmount:  total.Sub(final),
			FinalAmount:     final,
			CouponCode:      req.CouponCode,
			Status:          models.OrderStatusPending,
			ShippingAddress: req.ShippingAddress,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			order.IdempotencyKey = &key
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		eventItems := make([]models.OrderItemData, 0, len(items))
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			eventItems = append(eventItems, models.OrderItemData{
				PartID:   items[i].PartID,
				Quantity: items[i].Quantity,
				Price:    items[i].Price,
			})
		}

		base := newBaseEvent(models.EventTypeOrderPlaced)
		if err := emit(ctx, tx, models.AggregateOrder, order.ID, base, &models.OrderPlacedEvent{
			BaseEvent:   base,
			OrderID:     order.ID,
			CustomerID:  customerID,
			FinalAmount: final,
			SellerIDs:   sellerIDs,
			Items:       eventItems,
		}); err != nil {
			return err
		}

		details = &OrderDetails{Order: order, Items: items}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return details, created, nil
}

// calculateTotal sums unit price times quantity over all lines
func calculateTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// resolveFinalAmount prefers an explicit final amount, then total minus
// discount, then total. The result must lie in [0, total].
func resolveFinalAmount(total decimal.Decimal, discount, final *decimal.Decimal) (decimal.Decimal, error) {
	amount := total
	switch {
	case final != nil:
		amount = *final
	case discount != nil:
		amount = total.Sub(*discount)
	}
	if amount.IsNegative() {
		return decimal.Zero, apperr.Validation("final amount cannot be negative")
	}
	if amount.GreaterThan(total) {
		return decimal.Zero, apperr.Validation("final amount %s exceeds order total %s",
			amount.StringFixed(2), total.StringFixed(2))
	}
	return amount, nil
}

// GetOrder retrieves an order visible to the actor
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*OrderDetails, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, notFoundAs(err, "order %d not found", orderID)
	}

	if !s.canView(ctx, actor, order) {
		return nil, apperr.Forbidden("not allowed to view this order")
	}

	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return &OrderDetails{Order: order, Items: items}, nil
}

func (s *OrderService) canView(ctx context.Context, actor Actor, order *models.Order) bool {
	switch {
	case actor.IsAdmin(), actor.Role == models.RoleSupport, order.CustomerID == actor.UserID:
		return true
	case actor.Role == models.RoleDeliveryAgent:
		return order.DeliveryAgentID != nil && *order.DeliveryAgentID == actor.UserID
	case actor.Role == models.RoleSeller:
		ok, err := s.sellsOnOrder(ctx, s.repo, order.ID, actor.UserID)
		if err != nil {
			s.logger.Warn("Failed to resolve order sellers", zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return ok
	}
	return false
}

func (s *OrderService) sellsOnOrder(ctx context.Context, repo store.Repository, orderID, sellerID int64) (bool, error) {
	sellerIDs, err := repo.GetSellerIDsByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, id := range sellerIDs {
		if id == sellerID {
			return true, nil
		}
	}
	return false, nil
}

// CancelOrder cancels a pending order on behalf of its customer and restores stock
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var cancelled *models.Order
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", orderID)
		}
		if order.CustomerID != userID {
			return apperr.Forbidden("only the customer who placed the order can cancel it")
		}
		if order.Status != models.OrderStatusPending {
			return apperr.InvalidState("order cannot be cancelled in status %s", order.Status)
		}

		items, err := tx.GetOrderItemsByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		for _, item := range items {
			if err := tx.IncrementStock(ctx, item.PartID, item.Quantity); err != nil {
				return fmt.Errorf("failed to restore stock for part %d: %w", item.PartID, err)
			}
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if err := failOpenPayment(ctx, tx, order); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatusByOrderID(ctx, orderID, models.InvoiceStatusCancelled); err != nil {
			return fmt.Errorf("failed to sync invoice status: %w", err)
		}

		base := newBaseEvent(models.EventTypeOrderCancelled)
		if err := emit(ctx, tx, models.AggregateOrder, orderID, base, &models.OrderCancelledEvent{
			BaseEvent:  base,
			OrderID:    orderID,
			CustomerID: order.CustomerID,
			Reason:     "cancelled by customer",
		}); err != nil {
			return err
		}

		order.Status = models.OrderStatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID))
	return cancelled, nil
}

// AssignDelivery attaches a delivery agent to a processing or shipped order
func (s *OrderService) AssignDelivery(ctx context.Context, orderID, agentID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AssignDelivery")
	defer span.End()

	var assigned *models.Order
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", orderID)
		}
		if order.Status != models.OrderStatusProcessing && order.Status != models.OrderStatusShipped {
			return apperr.InvalidState("cannot assign delivery to an order in status %s", order.Status)
		}

		agent, err := tx.GetUserByID(ctx, agentID)
		if err != nil {
			return notFoundAs(err, "user %d not found", agentID)
		}
		if agent.Role != models.RoleDeliveryAgent {
			return apperr.Validation("user %d is not a delivery agent", agentID)
		}

		if err := tx.SetOrderDelivery(ctx, orderID, &agentID, order.DeliveryOTP); err != nil {
			return fmt.Errorf("failed to assign delivery agent: %w", err)
		}

		base := newBaseEvent(models.EventTypeDeliveryAssigned)
		if err := emit(ctx, tx, models.AggregateOrder, orderID, base, &models.DeliveryAssignedEvent{
			BaseEvent:  base,
			OrderID:    orderID,
			CustomerID: order.CustomerID,
			AgentID:    agentID,
		}); err != nil {
			return err
		}

		order.DeliveryAgentID = &agentID
		assigned = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery agent assigned", zap.Int64("order_id", orderID), zap.Int64("agent_id", agentID))
	return assigned, nil
}

// UpdateStatus moves an order along processing -> shipped -> out_for_delivery -> delivered
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderID int64, status, otp string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	var updated *models.Order
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", orderID)
		}

		isAgent := order.DeliveryAgentID != nil && *order.DeliveryAgentID == actor.UserID
		var newOTP *string

		switch {
		case order.Status == models.OrderStatusProcessing && status == models.OrderStatusShipped:
			if !actor.IsAdmin() {
				ok, err := s.sellsOnOrder(ctx, tx, orderID, actor.UserID)
				if err != nil {
					return fmt.Errorf("failed to resolve order sellers: %w", err)
				}
				if !ok || actor.Role != models.RoleSeller {
					return apperr.Forbidden("only a seller on this order can ship it")
				}
			}

		case order.Status == models.OrderStatusShipped && status == models.OrderStatusOutForDelivery:
			if !actor.IsAdmin() && !isAgent {
				return apperr.Forbidden("only the assigned delivery agent can start delivery")
			}
			code, err := generateOTP()
			if err != nil {
				return fmt.Errorf("failed to generate delivery otp: %w", err)
			}
			newOTP = &code
			if err := tx.SetOrderDelivery(ctx, orderID, order.DeliveryAgentID, newOTP); err != nil {
				return fmt.Errorf("failed to store delivery otp: %w", err)
			}

		case order.Status == models.OrderStatusOutForDelivery && status == models.OrderStatusDelivered:
			if !actor.IsAdmin() {
				if !isAgent {
					return apperr.Forbidden("only the assigned delivery agent can complete delivery")
				}
				if order.DeliveryOTP == nil || otp != *order.DeliveryOTP {
					return apperr.Validation("invalid delivery otp")
				}
			}
			if err := tx.SetOrderDelivery(ctx, orderID, order.DeliveryAgentID, nil); err != nil {
				return fmt.Errorf("failed to clear delivery otp: %w", err)
			}

		default:
			return apperr.InvalidState("cannot move order from %s to %s", order.Status, status)
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if err := tx.UpdateInvoiceStatusByOrderID(ctx, orderID, models.InvoiceStatusForOrder(status)); err != nil {
			return fmt.Errorf("failed to sync invoice status: %w", err)
		}

		event := &models.OrderStatusChangedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:    orderID,
			CustomerID: order.CustomerID,
			Status:     status,
		}
		if newOTP != nil {
			event.DeliveryOTP = *newOTP
		}
		if err := emit(ctx, tx, models.AggregateOrder, orderID, event.BaseEvent, event); err != nil {
			return err
		}

		order.Status = status
		order.DeliveryOTP = newOTP
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitions.WithLabelValues(status).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", status),
		zap.Int64("actor_id", actor.UserID))
	return updated, nil
}

// failOpenPayment fails a payment still awaiting confirmation on a cancelled order
func failOpenPayment(ctx context.Context, tx store.Repository, order *models.Order) error {
	payment, err := tx.FindOpenPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order payment: %w", err)
	}
	if payment == nil {
		return nil
	}
	if payment.Status == models.PaymentStatusCompleted {
		return apperr.InvalidState("order %d is already paid", order.ID)
	}

	payment.Status = models.PaymentStatusFailed
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	base := newBaseEvent(models.EventTypePaymentFailed)
	return emit(ctx, tx, models.AggregatePayment, payment.ID, base, &models.PaymentFailedEvent{
		BaseEvent: base,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    order.CustomerID,
		Reason:    "order cancelled",
	})
}

// generateOTP returns a random six digit code
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
