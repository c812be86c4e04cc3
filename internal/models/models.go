package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles
const (
	RoleCustomer        = "customer"
	RoleSeller          = "seller"
	RoleDeliveryAgent   = "delivery_agent"
	RoleServiceProvider = "service_provider"
	RoleSupport         = "support"
	RoleAdmin           = "admin"
)

// User is the read model of an account, used for notifications and invoice snapshots
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Part represents a catalog part with its stock
type Part struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	CategoryID    int64           `db:"category_id" json:"category_id"`
	SellerID      int64           `db:"seller_id" json:"seller_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount     decimal.Decimal `db:"final_amount" json:"final_amount"`
	CouponCode      *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	Status          string          `db:"status" json:"status"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	DeliveryAgentID *int64          `db:"delivery_agent_id" json:"delivery_agent_id,omitempty"`
	DeliveryOTP     *string         `db:"delivery_otp" json:"-"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order. Price is the unit price at order time.
type OrderItem struct {
	ID       int64           `db:"id" json:"id"`
	OrderID  int64           `db:"order_id" json:"order_id"`
	PartID   int64           `db:"part_id" json:"part_id"`
	Quantity int             `db:"quantity" json:"quantity"`
	Price    decimal.Decimal `db:"price" json:"price"`
}

// Payment represents a payment attempt against an order, booking or quotation
type Payment struct {
	ID                   int64           `db:"id" json:"id"`
	OrderID              *int64          `db:"order_id" json:"order_id,omitempty"`
	BookingID            *int64          `db:"booking_id" json:"booking_id,omitempty"`
	QuotationID          *int64          `db:"quotation_id" json:"quotation_id,omitempty"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	Method               string          `db:"method" json:"method"`
	Status               string          `db:"status" json:"status"`
	TransactionID        string          `db:"transaction_id" json:"transaction_id"`
	TransactionReference *string         `db:"transaction_reference" json:"transaction_reference,omitempty"`
	UPITransactionID     *string         `db:"upi_transaction_id" json:"upi_transaction_id,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Invoice is a snapshot of a settled order
type Invoice struct {
	ID              int64           `db:"id" json:"id"`
	InvoiceNumber   string          `db:"invoice_number" json:"invoice_number"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	IssueDate       time.Time       `db:"issue_date" json:"issue_date"`
	DueDate         time.Time       `db:"due_date" json:"due_date"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxRate         decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	IssuedToName    string          `db:"issued_to_name" json:"issued_to_name"`
	IssuedToEmail   string          `db:"issued_to_email" json:"issued_to_email"`
	IssuedToAddress string          `db:"issued_to_address" json:"issued_to_address"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Transaction is an append-only ledger entry
type Transaction struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	OrderID     *int64          `db:"order_id" json:"order_id,omitempty"`
	QuotationID *int64          `db:"quotation_id" json:"quotation_id,omitempty"`
	BookingID   *int64          `db:"booking_id" json:"booking_id,omitempty"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Type        string          `db:"type" json:"type"`
	Source      string          `db:"source" json:"source"`
	Description string          `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Quotation is a customer request for a custom job priced by a provider
type Quotation struct {
	ID             int64            `db:"id" json:"id"`
	CustomerID     int64            `db:"customer_id" json:"customer_id"`
	ProviderID     *int64           `db:"provider_id" json:"provider_id,omitempty"`
	EstimatedPrice *decimal.Decimal `db:"estimated_price" json:"estimated_price,omitempty"`
	Status         string           `db:"status" json:"status"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// Booking is a scheduled service appointment
type Booking struct {
	ID         int64            `db:"id" json:"id"`
	CustomerID int64            `db:"customer_id" json:"customer_id"`
	ProviderID *int64           `db:"provider_id" json:"provider_id,omitempty"`
	Price      *decimal.Decimal `db:"price" json:"price,omitempty"`
	Status     string           `db:"status" json:"status"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Notification is an in-app notification row
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	RelatedID *int64    `db:"related_id" json:"related_id,omitempty"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending        = "pending"
	OrderStatusProcessing     = "processing"
	OrderStatusShipped        = "shipped"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
)

// Payment methods
const (
	PaymentMethodUPI              = "upi"
	PaymentMethodCOD              = "cod"
	PaymentMethodManualSettlement = "manual_settlement"
)

// Payment statuses
const (
	PaymentStatusPending              = "pending"
	PaymentStatusAwaitingConfirmation = "awaiting_confirmation"
	PaymentStatusCompleted            = "completed"
	PaymentStatusFailed               = "failed"
)

// Invoice statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
)

// Ledger transaction types and sources
const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"

	TransactionSourceOrderPayment = "order_payment"
	TransactionSourceCommission   = "commission"
	TransactionSourceWithdrawal   = "withdrawal"
)

// Quotation statuses
const (
	QuotationStatusPending   = "pending"
	QuotationStatusAccepted  = "accepted"
	QuotationStatusRejected  = "rejected"
	QuotationStatusCompleted = "completed"
)

// Booking statuses
const (
	BookingStatusPending    = "pending"
	BookingStatusConfirmed  = "confirmed"
	BookingStatusInProgress = "in_progress"
	BookingStatusCompleted  = "completed"
	BookingStatusCancelled  = "cancelled"
)

// IsTerminalPayment reports whether no further payment transition is allowed
func IsTerminalPayment(status string) bool {
	return status == PaymentStatusCompleted || status == PaymentStatusFailed
}

// ValidQuotationStatus reports whether s is a known quotation status
func ValidQuotationStatus(s string) bool {
	switch s {
	case QuotationStatusPending, QuotationStatusAccepted, QuotationStatusRejected, QuotationStatusCompleted:
		return true
	}
	return false
}

// ValidBookingStatus reports whether s is a known booking status
func ValidBookingStatus(s string) bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// InvoiceStatusForOrder derives the invoice status from the order status
func InvoiceStatusForOrder(orderStatus string) string {
	switch orderStatus {
	case OrderStatusDelivered, OrderStatusShipped, "completed":
		return InvoiceStatusPaid
	case OrderStatusCancelled:
		return InvoiceStatusCancelled
	default:
		return InvoiceStatusPending
	}
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
