package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/store"
	"carvo/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService generates one tax-inclusive invoice per order.
type InvoiceService struct {
	repo    store.Repository
	taxRate decimal.Decimal
	dueDays int
	now     func() time.Time
	logger  *zap.Logger
}

func NewInvoiceService(repo store.Repository, taxRate decimal.Decimal, dueDays int) *InvoiceService {
	return &InvoiceService{
		repo:    repo,
		taxRate: taxRate,
		dueDays: dueDays,
		now:     time.Now,
		logger:  util.Component("invoice"),
	}
}

// BackCalculate splits a tax-inclusive total into subtotal and tax.
// ratePercent is a percentage, e.g. 10 for 10%.
func BackCalculate(total, ratePercent decimal.Decimal) (subtotal, tax decimal.Decimal) {
	divisor := decimal.NewFromInt(1).Add(ratePercent.Div(decimal.NewFromInt(100)))
	subtotal = total.Div(divisor).Round(2)
	return subtotal, total.Sub(subtotal)
}

// InvoiceNumber formats INV-YYYYMMDD-NNNN.
func InvoiceNumber(issued time.Time, orderID int64) string {
	return fmt.Sprintf("INV-%s-%04d", issued.Format("20060102"), orderID)
}

// Generate returns the order's invoice, creating it if needed. created
// reports whether this call inserted it.
func (s *InvoiceService) Generate(ctx context.Context, actor Actor, orderID int64) (*models.Invoice, bool, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.Generate")
	defer span.End()

	if err := s.authorize(ctx, actor, orderID); err != nil {
		return nil, false, err
	}
	return s.ensure(ctx, orderID)
}

// Get returns an existing invoice.
func (s *InvoiceService) Get(ctx context.Context, actor Actor, orderID int64) (*models.Invoice, error) {
	if err := s.authorize(ctx, actor, orderID); err != nil {
		return nil, err
	}

	invoice, err := s.repo.FindInvoiceByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoice == nil {
		return nil, apperr.NotFound("invoice for order %d not found", orderID)
	}
	return invoice, nil
}

func (s *InvoiceService) authorize(ctx context.Context, actor Actor, orderID int64) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return notFoundAs(err, "order %d not found", orderID)
	}
	if order.CustomerID != actor.UserID && !actor.IsAdmin() {
		return apperr.Forbidden("not allowed to access this invoice")
	}
	return nil
}

func (s *InvoiceService) ensure(ctx context.Context, orderID int64) (*models.Invoice, bool, error) {
	var invoice *models.Invoice
	created := false

	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		existing, err := tx.FindInvoiceByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}
		if existing != nil {
			invoice = existing
			return nil
		}

		order, err := tx.GetOrderByID(ctx, orderID)
		if err != nil {
			return notFoundAs(err, "order %d not found", orderID)
		}

		invoice, err = s.build(ctx, tx, order)
		if err != nil {
			return err
		}
		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		created = true

		base := newBaseEvent(models.EventTypeInvoiceGenerated)
		return emit(ctx, tx, models.AggregateInvoice, invoice.ID, base, &models.InvoiceGeneratedEvent{
			BaseEvent:     base,
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			Total:         invoice.Total,
		})
	})

	// A concurrent generator won the unique index; return its row.
	if errors.Is(err, store.ErrDuplicate) {
		existing, findErr := s.repo.FindInvoiceByOrderID(ctx, orderID)
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to load invoice: %w", findErr)
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		util.InvoicesGeneratedTotal.Inc()
		s.logger.Info("Invoice generated",
			zap.Int64("order_id", orderID),
			zap.String("invoice_number", invoice.InvoiceNumber))
	}
	return invoice, created, nil
}

func (s *InvoiceService) build(ctx context.Context, tx store.Repository, order *models.Order) (*models.Invoice, error) {
	var name, email string
	customer, err := tx.GetUserByID(ctx, order.CustomerID)
	switch {
	case err == nil:
		name, email = customer.Name, customer.Email
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("Invoice customer not found", zap.Int64("customer_id", order.CustomerID))
	default:
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	issued := s.now().UTC()
	subtotal, tax := BackCalculate(order.FinalAmount, s.taxRate)

	return &models.Invoice{
		InvoiceNumber:   InvoiceNumber(issued, order.ID),
		OrderID:         order.ID,
		IssueDate:       issued,
		DueDate:         issued.AddDate(0, 0, s.dueDays),
		Subtotal:        subtotal,
		TaxRate:         s.taxRate,
		TaxAmount:       tax,
		Total:           order.FinalAmount,
		Status:          models.InvoiceStatusForOrder(order.Status),
		IssuedToName:    name,
		IssuedToEmail:   email,
		IssuedToAddress: order.ShippingAddress,
	}, nil
}
