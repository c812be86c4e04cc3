package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced         = "ORDER_PLACED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged  = "ORDER_STATUS_CHANGED"
	EventTypeDeliveryAssigned    = "ORDER_DELIVERY_ASSIGNED"
	EventTypePaymentConfirmed    = "PAYMENT_CONFIRMED"
	EventTypePaymentFailed       = "PAYMENT_FAILED"
	EventTypeSettlementCompleted = "SETTLEMENT_COMPLETED"
	EventTypeSettlementStatus    = "SETTLEMENT_STATUS_UPDATED"
	EventTypeWithdrawalRequested = "WITHDRAWAL_REQUESTED"
	EventTypeInvoiceGenerated    = "INVOICE_GENERATED"
)

// Aggregate types carried on outbox rows
const (
	AggregateOrder     = "order"
	AggregatePayment   = "payment"
	AggregateQuotation = "quotation"
	AggregateBooking   = "booking"
	AggregateUser      = "user"
	AggregateInvoice   = "invoice"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order is committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	CustomerID  int64           `json:"customer_id"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	SellerIDs   []int64         `json:"seller_ids"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when the customer cancels
type OrderCancelledEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	CustomerID int64  `json:"customer_id"`
	Reason     string `json:"reason"`
}

// OrderStatusChangedEvent published on fulfilment transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	CustomerID  int64  `json:"customer_id"`
	Status      string `json:"status"`
	DeliveryOTP string `json:"delivery_otp,omitempty"`
}

// DeliveryAssignedEvent published when an agent is assigned
type DeliveryAssignedEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	AgentID    int64 `json:"agent_id"`
}

// PaymentConfirmedEvent published when a payment reaches completed
type PaymentConfirmedEvent struct {
	BaseEvent
	PaymentID int64           `json:"payment_id"`
	OrderID   *int64          `json:"order_id,omitempty"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
}

// PaymentFailedEvent published when a payment reaches failed
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"`
}

// SettlementEvent published for quotation and booking status changes
type SettlementEvent struct {
	BaseEvent
	Kind           string          `json:"kind"`
	EntityID       int64           `json:"entity_id"`
	CustomerID     int64           `json:"customer_id"`
	ProviderID     *int64          `json:"provider_id,omitempty"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	ProviderAmount decimal.Decimal `json:"provider_amount"`
}

// WithdrawalRequestedEvent published when a user withdraws earnings
type WithdrawalRequestedEvent struct {
	BaseEvent
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// InvoiceGeneratedEvent published when a new invoice row is created
type InvoiceGeneratedEvent struct {
	BaseEvent
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	OrderID       int64           `json:"order_id"`
	CustomerID    int64           `json:"customer_id"`
	Total         decimal.Decimal `json:"total"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	PartID   int64           `json:"part_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// OutboxEvent is an event row written in the same transaction as the change it describes
type OutboxEvent struct {
	ID            int64           `db:"id" json:"id"`
	EventID       string          `db:"event_id" json:"event_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   int64           `db:"aggregate_id" json:"aggregate_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	PublishedAt   *time.Time      `db:"published_at" json:"published_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
