package store

import (
	"context"

	"carvo/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, total_amount, discount_amount, final_amount, coupon_code,
			status, shipping_address, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.insert(ctx, order, query,
		order.CustomerID, order.TotalAmount, order.DiscountAmount, order.FinalAmount, order.CouponCode,
		order.Status, order.ShippingAddress, order.IdempotencyKey)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := s.get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order and locks its row until the transaction ends
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := s.get(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderByIdempotencyKey retrieves a customer's order by idempotency key
func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.get(ctx, &order,
		"SELECT * FROM orders WHERE customer_id = $1 AND idempotency_key = $2", customerID, key)
	return findOne(&order, err)
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	return s.execOne(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
}

// SetOrderDelivery stores the assigned agent and the current delivery OTP
func (s *Store) SetOrderDelivery(ctx context.Context, orderID int64, agentID *int64, otp *string) error {
	return s.execOne(ctx,
		"UPDATE orders SET delivery_agent_id = $1, delivery_otp = $2, updated_at = NOW() WHERE id = $3",
		agentID, otp, orderID)
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, part_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.insert(ctx, &item.ID, query,
		item.OrderID, item.PartID, item.Quantity, item.Price)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.selectRows(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetSellerIDsByOrderID returns the distinct sellers whose parts appear in an order
func (s *Store) GetSellerIDsByOrderID(ctx context.Context, orderID int64) ([]int64, error) {
	var ids []int64
	err := s.selectRows(ctx, &ids, `
		SELECT DISTINCT p.seller_id
		FROM order_items oi
		JOIN parts p ON p.id = oi.part_id
		WHERE oi.order_id = $1
		ORDER BY p.seller_id`, orderID)
	return ids, err
}
