package store

import (
	"context"
	"errors"

	"carvo/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by lookups that require a row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Repository is the persistence surface used by the services. Lookups named
// Find* return (nil, nil) when no row matches; Get* return ErrNotFound.
type Repository interface {
	// InTx runs fn inside one transaction. The Repository passed to fn is
	// bound to that transaction; returning an error rolls everything back.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUserIDsByRole(ctx context.Context, role string) ([]int64, error)

	GetPartByID(ctx context.Context, id int64) (*models.Part, error)
	DecrementStock(ctx context.Context, partID int64, quantity int) (bool, error)
	IncrementStock(ctx context.Context, partID int64, quantity int) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	SetOrderDelivery(ctx context.Context, orderID int64, agentID *int64, otp *string) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetSellerIDsByOrderID(ctx context.Context, orderID int64) ([]int64, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	FindPaymentByQuotationID(ctx context.Context, quotationID int64) (*models.Payment, error)
	FindPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
	FindOpenPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByOrderID(ctx context.Context, orderID int64) (*models.Invoice, error)
	UpdateInvoiceStatusByOrderID(ctx context.Context, orderID int64, status string) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactionsByUserID(ctx context.Context, userID int64) ([]models.Transaction, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	LockAccount(ctx context.Context, userID int64) error

	GetQuotationForUpdate(ctx context.Context, id int64) (*models.Quotation, error)
	UpdateQuotationStatus(ctx context.Context, id int64, status string) error
	GetBookingForUpdate(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status string) error

	InsertOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	FetchUnpublishedOutbox(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, cause error) error

	CreateNotification(ctx context.Context, n *models.Notification) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
