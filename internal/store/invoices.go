package store

import (
	"context"

	"carvo/internal/models"
)

// CreateInvoice inserts an invoice; a second invoice for the same order fails with ErrDuplicate
func (s *Store) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (invoice_number, order_id, issue_date, due_date, subtotal, tax_rate,
			tax_amount, total, status, issued_to_name, issued_to_email, issued_to_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	return s.insert(ctx, invoice, query,
		invoice.InvoiceNumber, invoice.OrderID, invoice.IssueDate, invoice.DueDate, invoice.Subtotal,
		invoice.TaxRate, invoice.TaxAmount, invoice.Total, invoice.Status, invoice.IssuedToName,
		invoice.IssuedToEmail, invoice.IssuedToAddress)
}

// FindInvoiceByOrderID retrieves the invoice of an order
func (s *Store) FindInvoiceByOrderID(ctx context.Context, orderID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.get(ctx, &invoice, "SELECT * FROM invoices WHERE order_id = $1", orderID)
	return findOne(&invoice, err)
}

// UpdateInvoiceStatusByOrderID syncs the invoice status; a missing invoice is not an error
func (s *Store) UpdateInvoiceStatusByOrderID(ctx context.Context, orderID int64, status string) error {
	_, err := s.exec(ctx, "UPDATE invoices SET status = $1 WHERE order_id = $2", status, orderID)
	return err
}
