package service

import (
	"context"
	"errors"
	"fmt"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/store"
	"carvo/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService completes quotations and bookings and splits their
// payment between the platform and the provider.
type SettlementService struct {
	repo   store.Repository
	ledger *LedgerService
	locker Locker
	logger *zap.Logger
}

// NewSettlementService creates a settlement service. locker may be nil.
func NewSettlementService(repo store.Repository, ledger *LedgerService, locker Locker) *SettlementService {
	return &SettlementService{
		repo:   repo,
		ledger: ledger,
		locker: locker,
		logger: util.Component("settlement"),
	}
}

// settleable is the common view of a quotation or booking being settled.
type settleable struct {
	kind       string
	id         int64
	customerID int64
	providerID *int64
	price      *decimal.Decimal
}

func (t settleable) label() string {
	return fmt.Sprintf("%s #%d", t.kind, t.id)
}

// UpdateQuotationStatus changes a quotation's status, settling it when the
// new status is completed.
func (s *SettlementService) UpdateQuotationStatus(ctx context.Context, id int64, status string) (*models.Quotation, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.UpdateQuotationStatus")
	defer span.End()

	if !models.ValidQuotationStatus(status) {
		return nil, apperr.Validation("invalid quotation status %q", status)
	}

	var updated *models.Quotation
	key := fmt.Sprintf("settle:%s:%d", models.AggregateQuotation, id)
	err := withLock(ctx, s.locker, s.logger, key, func() error {
		return s.repo.InTx(ctx, func(tx store.Repository) error {
			quotation, err := tx.GetQuotationForUpdate(ctx, id)
			if err != nil {
				return notFoundAs(err, "quotation %d not found", id)
			}
			if quotation.Status == models.QuotationStatusCompleted {
				return apperr.Conflict("quotation %d is already completed", id)
			}

			target := settleable{
				kind:       models.AggregateQuotation,
				id:         quotation.ID,
				customerID: quotation.CustomerID,
				providerID: quotation.ProviderID,
				price:      quotation.EstimatedPrice,
			}
			if err := s.apply(ctx, tx, target, status, status == models.QuotationStatusCompleted); err != nil {
				return err
			}
			if err := tx.UpdateQuotationStatus(ctx, id, status); err != nil {
				return fmt.Errorf("failed to update quotation status: %w", err)
			}

			quotation.Status = status
			updated = quotation
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateBookingStatus mirrors UpdateQuotationStatus for bookings.
func (s *SettlementService) UpdateBookingStatus(ctx context.Context, id int64, status string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.UpdateBookingStatus")
	defer span.End()

	if !models.ValidBookingStatus(status) {
		return nil, apperr.Validation("invalid booking status %q", status)
	}

	var updated *models.Booking
	key := fmt.Sprintf("settle:%s:%d", models.AggregateBooking, id)
	err := withLock(ctx, s.locker, s.logger, key, func() error {
		return s.repo.InTx(ctx, func(tx store.Repository) error {
			booking, err := tx.GetBookingForUpdate(ctx, id)
			if err != nil {
				return notFoundAs(err, "booking %d not found", id)
			}
			if booking.Status == models.BookingStatusCompleted {
				return apperr.Conflict("booking %d is already completed", id)
			}

			target := settleable{
				kind:       models.AggregateBooking,
				id:         booking.ID,
				customerID: booking.CustomerID,
				providerID: booking.ProviderID,
				price:      booking.Price,
			}
			if err := s.apply(ctx, tx, target, status, status == models.BookingStatusCompleted); err != nil {
				return err
			}
			if err := tx.UpdateBookingStatus(ctx, id, status); err != nil {
				return fmt.Errorf("failed to update booking status: %w", err)
			}

			booking.Status = status
			updated = booking
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// apply settles target when completing, then queues the status event.
func (s *SettlementService) apply(ctx context.Context, tx store.Repository, target settleable, status string, completing bool) error {
	eventType := models.EventTypeSettlementStatus
	amount := decimal.Zero
	providerAmount := decimal.Zero

	if completing {
		var err error
		amount, err = s.settlePayment(ctx, tx, target)
		if err != nil {
			return err
		}
		if amount.IsPositive() {
			providerAmount, err = s.ledger.recordCommission(ctx, tx, commissionRef{
				QuotationID: refIf(target.kind == models.AggregateQuotation, target.id),
				BookingID:   refIf(target.kind == models.AggregateBooking, target.id),
				Label:       target.label(),
			}, target.providerID, amount)
			if err != nil {
				return err
			}
		}
		eventType = models.EventTypeSettlementCompleted
	}

	base := newBaseEvent(eventType)
	if err := emit(ctx, tx, target.kind, target.id, base, &models.SettlementEvent{
		BaseEvent:      base,
		Kind:           target.kind,
		EntityID:       target.id,
		CustomerID:     target.customerID,
		ProviderID:     target.providerID,
		Status:         status,
		Amount:         amount,
		ProviderAmount: providerAmount,
	}); err != nil {
		return err
	}

	if completing {
		util.SettlementsTotal.WithLabelValues(target.kind).Inc()
		s.logger.Info("Settlement completed",
			zap.String("kind", target.kind),
			zap.Int64("id", target.id),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("provider_amount", providerAmount.StringFixed(2)))
	}
	return nil
}

// settlePayment makes sure a completed payment exists for target and returns
// the amount to split. Without a prior payment a manual_settlement record is
// synthesized from the quoted price.
func (s *SettlementService) settlePayment(ctx context.Context, tx store.Repository, target settleable) (decimal.Decimal, error) {
	var (
		payment *models.Payment
		err     error
	)
	if target.kind == models.AggregateQuotation {
		payment, err = tx.FindPaymentByQuotationID(ctx, target.id)
	} else {
		payment, err = tx.FindPaymentByBookingID(ctx, target.id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load %s payment: %w", target.kind, err)
	}

	if payment == nil {
		amount := decimal.Zero
		if target.price != nil {
			amount = *target.price
		}
		payment = &models.Payment{
			QuotationID:   refIf(target.kind == models.AggregateQuotation, target.id),
			BookingID:     refIf(target.kind == models.AggregateBooking, target.id),
			Amount:        amount,
			Method:        models.PaymentMethodManualSettlement,
			Status:        models.PaymentStatusCompleted,
			TransactionID: fmt.Sprintf("SETTLE-%s", uuid.New().String()[:8]),
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return decimal.Zero, apperr.Conflict("%s already has a payment", target.label())
			}
			return decimal.Zero, fmt.Errorf("failed to record settlement payment: %w", err)
		}
		util.PaymentsTotal.WithLabelValues(payment.Method, payment.Status).Inc()
		return payment.Amount, nil
	}

	if payment.Status != models.PaymentStatusCompleted {
		payment.Status = models.PaymentStatusCompleted
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return decimal.Zero, fmt.Errorf("failed to complete %s payment: %w", target.kind, err)
		}
	}
	return payment.Amount, nil
}

func refIf(ok bool, id int64) *int64 {
	if !ok {
		return nil
	}
	return int64Ptr(id)
}
