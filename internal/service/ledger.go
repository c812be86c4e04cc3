package service

import (
	"context"
	"errors"
	"fmt"

	"carvo/internal/apperr"
	"carvo/internal/models"
	"carvo/internal/store"
	"carvo/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService owns the append-only transactions ledger.
type LedgerService struct {
	repo              store.Repository
	platformAccountID int64
	commissionRate    decimal.Decimal
	logger            *zap.Logger
}

func NewLedgerService(repo store.Repository, platformAccountID int64, commissionRate decimal.Decimal) *LedgerService {
	return &LedgerService{
		repo:              repo,
		platformAccountID: platformAccountID,
		commissionRate:    commissionRate,
		logger:            util.Component("ledger"),
	}
}

// Split divides amount into the platform share and the provider share, each
// rounded to two decimal places.
func Split(amount, rate decimal.Decimal) (platform, provider decimal.Decimal) {
	platform = amount.Mul(rate).Round(2)
	provider = amount.Mul(decimal.NewFromInt(1).Sub(rate)).Round(2)
	return platform, provider
}

// Balance is the sum of a user's credits minus debits.
func (l *LedgerService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	balance, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

// History lists a user's ledger entries, newest first.
func (l *LedgerService) History(ctx context.Context, userID int64) ([]models.Transaction, error) {
	txns, err := l.repo.ListTransactionsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return txns, nil
}

// Withdraw debits amount from the user's balance.
func (l *LedgerService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.Withdraw")
	defer span.End()

	if !amount.IsPositive() {
		return nil, apperr.Validation("withdrawal amount must be positive")
	}
	amount = amount.Round(2)

	var debit *models.Transaction
	err := l.repo.InTx(ctx, func(tx store.Repository) error {
		if err := tx.LockAccount(ctx, userID); err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}

		balance, err := tx.GetBalance(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to compute balance: %w", err)
		}
		if amount.GreaterThan(balance) {
			return apperr.InvalidState("insufficient balance: requested %s, available %s",
				amount.StringFixed(2), balance.StringFixed(2))
		}

		debit = &models.Transaction{
			UserID:      userID,
			Amount:      amount,
			Type:        models.TransactionTypeDebit,
			Source:      models.TransactionSourceWithdrawal,
			Description: "Withdrawal request",
		}
		if err := tx.CreateTransaction(ctx, debit); err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}

		base := newBaseEvent(models.EventTypeWithdrawalRequested)
		return emit(ctx, tx, models.AggregateUser, userID, base, &models.WithdrawalRequestedEvent{
			BaseEvent: base,
			UserID:    userID,
			Amount:    amount,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Withdrawal recorded",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.StringFixed(2)))
	return debit, nil
}

// commissionRef identifies what a commission credit settles.
type commissionRef struct {
	QuotationID *int64
	BookingID   *int64
	Label       string
}

// recordCommission credits the platform and, when present, the provider
// inside tx. It returns the provider's share.
func (l *LedgerService) recordCommission(ctx context.Context, tx store.Repository, ref commissionRef, providerID *int64, amount decimal.Decimal) (decimal.Decimal, error) {
	platformShare, providerShare := Split(amount, l.commissionRate)

	credits := []models.Transaction{{
		UserID:      l.platformAccountID,
		QuotationID: ref.QuotationID,
		BookingID:   ref.BookingID,
		Amount:      platformShare,
		Type:        models.TransactionTypeCredit,
		Source:      models.TransactionSourceCommission,
		Description: fmt.Sprintf("Platform commission for %s", ref.Label),
	}}
	if providerID != nil {
		credits = append(credits, models.Transaction{
			UserID:      *providerID,
			QuotationID: ref.QuotationID,
			BookingID:   ref.BookingID,
			Amount:      providerShare,
			Type:        models.TransactionTypeCredit,
			Source:      models.TransactionSourceCommission,
			Description: fmt.Sprintf("Earnings for %s", ref.Label),
		})
	} else {
		providerShare = decimal.Zero
	}

	for i := range credits {
		if err := tx.CreateTransaction(ctx, &credits[i]); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return decimal.Zero, apperr.Conflict("commission for %s already recorded", ref.Label)
			}
			return decimal.Zero, fmt.Errorf("failed to record commission: %w", err)
		}
	}

	util.CommissionAmountTotal.Add(platformShare.InexactFloat64())
	return providerShare, nil
}

// recordOrderPayment credits a completed order payment to the platform account.
func (l *LedgerService) recordOrderPayment(ctx context.Context, tx store.Repository, orderID int64, amount decimal.Decimal) error {
	err := tx.CreateTransaction(ctx, &models.Transaction{
		UserID:      l.platformAccountID,
		OrderID:     &orderID,
		Amount:      amount,
		Type:        models.TransactionTypeCredit,
		Source:      models.TransactionSourceOrderPayment,
		Description: fmt.Sprintf("Payment for order #%d", orderID),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return apperr.Conflict("payment for order %d already recorded", orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to record order payment: %w", err)
	}
	return nil
}
