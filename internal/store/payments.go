package store

import (
	"context"

	"carvo/internal/models"
)

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, booking_id, quotation_id, amount, method, status,
			transaction_id, transaction_reference, upi_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.insert(ctx, payment, query,
		payment.OrderID, payment.BookingID, payment.QuotationID, payment.Amount, payment.Method,
		payment.Status, payment.TransactionID, payment.TransactionReference, payment.UPITransactionID)
}

// GetPaymentForUpdate retrieves a payment and locks its row
func (s *Store) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := s.get(ctx, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByTransactionID retrieves and locks the payment carrying a gateway transaction id
func (s *Store) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.get(ctx, &payment,
		"SELECT * FROM payments WHERE transaction_id = $1 FOR UPDATE", transactionID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPaymentByQuotationID retrieves the payment recorded against a quotation
func (s *Store) FindPaymentByQuotationID(ctx context.Context, quotationID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.get(ctx, &payment, "SELECT * FROM payments WHERE quotation_id = $1 FOR UPDATE", quotationID)
	return findOne(&payment, err)
}

// FindPaymentByBookingID retrieves the payment recorded against a booking
func (s *Store) FindPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.get(ctx, &payment, "SELECT * FROM payments WHERE booking_id = $1 FOR UPDATE", bookingID)
	return findOne(&payment, err)
}

// FindOpenPaymentByOrderID retrieves and locks the order's payment that has not failed
func (s *Store) FindOpenPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.get(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 AND status <> $2 FOR UPDATE", orderID, models.PaymentStatusFailed)
	return findOne(&payment, err)
}

// UpdatePayment persists status and customer-supplied references
func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return s.execOne(ctx, `
		UPDATE payments
		SET status = $1, transaction_reference = $2, upi_transaction_id = $3, updated_at = NOW()
		WHERE id = $4`,
		payment.Status, payment.TransactionReference, payment.UPITransactionID, payment.ID)
}
