package store

import (
	"context"

	"carvo/internal/models"

	"github.com/shopspring/decimal"
)

// CreateTransaction appends a ledger entry
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, order_id, quotation_id, booking_id, amount, type, source, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.insert(ctx, txn, query,
		txn.UserID, txn.OrderID, txn.QuotationID, txn.BookingID, txn.Amount, txn.Type, txn.Source, txn.Description)
}

// ListTransactionsByUserID retrieves a user's ledger, newest first
func (s *Store) ListTransactionsByUserID(ctx context.Context, userID int64) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.selectRows(ctx, &txns,
		"SELECT * FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return txns, err
}

// GetBalance returns credits minus debits for a user
func (s *Store) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.get(ctx, &balance, `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions WHERE user_id = $1`, userID)
	return balance, err
}

// LockAccount serializes balance-dependent writes for a user until the transaction ends
func (s *Store) LockAccount(ctx context.Context, userID int64) error {
	_, err := s.exec(ctx, "SELECT pg_advisory_xact_lock($1)", userID)
	return err
}

// GetQuotationForUpdate retrieves a quotation and locks its row
func (s *Store) GetQuotationForUpdate(ctx context.Context, id int64) (*models.Quotation, error) {
	var q models.Quotation
	if err := s.get(ctx, &q, "SELECT * FROM quotations WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &q, nil
}

// UpdateQuotationStatus updates quotation status
func (s *Store) UpdateQuotationStatus(ctx context.Context, id int64, status string) error {
	return s.execOne(ctx,
		"UPDATE quotations SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
}

// GetBookingForUpdate retrieves a booking and locks its row
func (s *Store) GetBookingForUpdate(ctx context.Context, id int64) (*models.Booking, error) {
	var b models.Booking
	if err := s.get(ctx, &b, "SELECT * FROM bookings WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBookingStatus updates booking status
func (s *Store) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	return s.execOne(ctx,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
}
