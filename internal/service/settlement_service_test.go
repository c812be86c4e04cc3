package service

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"carvo/internal/apperr"
	"carvo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		amount, rate       string
		platform, provider string
	}{
		{"1000", "0.10", "100", "900"},
		{"999.99", "0.10", "100.00", "899.99"},
		{"0.05", "0.10", "0.01", "0.05"},
		{"2500", "0.15", "375", "2125"},
	}

	for _, tc := range cases {
		platform, provider := Split(dec(tc.amount), dec(tc.rate))
		assertDec(t, tc.platform, platform)
		assertDec(t, tc.provider, provider)
	}
}

func TestQuotationCompletion_SynthesizesManualSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusAccepted,
	})

	quotation, err := f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.QuotationStatusCompleted, quotation.Status)
	assert.Equal(t, models.QuotationStatusCompleted, f.repo.Quotation(quotationID).Status)

	payments := f.repo.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentMethodManualSettlement, payments[0].Method)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)
	assertDec(t, "1000", payments[0].Amount)

	platform, err := f.ledger.Balance(ctx, platformAccount)
	require.NoError(t, err)
	assertDec(t, "100", platform)

	provider, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "900", provider)

	customer, err := f.ledger.Balance(ctx, f.customer)
	require.NoError(t, err)
	assertDec(t, "0", customer)

	var event models.SettlementEvent
	f.lastOutbox(t, models.EventTypeSettlementCompleted, &event)
	assert.Equal(t, quotationID, event.EntityID)
	assertDec(t, "900", event.ProviderAmount)
}

func TestQuotationCompletion_CompletesExistingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("2000"),
		Status:         models.QuotationStatusAccepted,
	})

	created, err := f.payments.Create(ctx, f.customer, &CreatePaymentRequest{QuotationID: &quotationID, Method: models.PaymentMethodUPI})
	require.NoError(t, err)

	_, err = f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusCompleted)
	require.NoError(t, err)

	payments := f.repo.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, created.Payment.ID, payments[0].ID)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)

	provider, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "1800", provider)
}

func TestQuotationCompletion_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusAccepted,
	})

	_, err := f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusCompleted)
	require.NoError(t, err)
	_, err = f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusCompleted)

	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	assert.Len(t, f.repo.Transactions(), 2)
}

func TestQuotationCompletion_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusAccepted,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusCompleted)
		}()
	}
	wg.Wait()

	assert.Len(t, f.repo.Payments(), 1)
	assert.Len(t, f.repo.Transactions(), 2)
	provider, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "900", provider)
}

func TestQuotationCompletion_NoProviderOrPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noProvider := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		EstimatedPrice: decPtr("500"),
		Status:         models.QuotationStatusAccepted,
	})
	_, err := f.settlements.UpdateQuotationStatus(ctx, noProvider, models.QuotationStatusCompleted)
	require.NoError(t, err)
	require.Len(t, f.repo.Transactions(), 1)
	assert.Equal(t, platformAccount, f.repo.Transactions()[0].UserID)
	assertDec(t, "50", f.repo.Transactions()[0].Amount)

	noPrice := f.repo.AddQuotation(models.Quotation{
		CustomerID: f.customer,
		ProviderID: &f.provider,
		Status:     models.QuotationStatusAccepted,
	})
	_, err = f.settlements.UpdateQuotationStatus(ctx, noPrice, models.QuotationStatusCompleted)
	require.NoError(t, err)
	assert.Len(t, f.repo.Transactions(), 1)
	assert.Len(t, f.repo.Payments(), 2)
}

func TestQuotationStatus_NonCompleting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		ProviderID:     &f.provider,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusPending,
	})

	quotation, err := f.settlements.UpdateQuotationStatus(ctx, quotationID, models.QuotationStatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.QuotationStatusAccepted, quotation.Status)
	assert.Empty(t, f.repo.Transactions())
	assert.Empty(t, f.repo.Payments())
	assert.Contains(t, f.outboxTypes(), models.EventTypeSettlementStatus)

	_, err = f.settlements.UpdateQuotationStatus(ctx, quotationID, "archived")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = f.settlements.UpdateQuotationStatus(ctx, 999, models.QuotationStatusAccepted)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestBookingCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bookingID := f.repo.AddBooking(models.Booking{
		CustomerID: f.customer,
		ProviderID: &f.provider,
		Price:      decPtr("750"),
		Status:     models.BookingStatusInProgress,
	})

	booking, err := f.settlements.UpdateBookingStatus(ctx, bookingID, models.BookingStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, booking.Status)

	platform, err := f.ledger.Balance(ctx, platformAccount)
	require.NoError(t, err)
	assertDec(t, "75", platform)
	provider, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "675", provider)

	_, err = f.settlements.UpdateBookingStatus(ctx, bookingID, models.BookingStatusCancelled)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestSettlement_TakesAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusAccepted,
	})
	locker := &stubLocker{}
	settlements := NewSettlementService(f.repo, f.ledger, locker)

	_, err := settlements.UpdateQuotationStatus(context.Background(), quotationID, models.QuotationStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"settle:quotation:" + strconv.FormatInt(quotationID, 10)}, locker.acquired)
	assert.Empty(t, locker.held)
}

func TestSettlement_HeldLockIsConflict(t *testing.T) {
	f := newFixture(t)
	quotationID := f.repo.AddQuotation(models.Quotation{
		CustomerID:     f.customer,
		EstimatedPrice: decPtr("1000"),
		Status:         models.QuotationStatusAccepted,
	})
	key := "settle:quotation:" + strconv.FormatInt(quotationID, 10)
	settlements := NewSettlementService(f.repo, f.ledger, &stubLocker{held: map[string]bool{key: true}})

	_, err := settlements.UpdateQuotationStatus(context.Background(), quotationID, models.QuotationStatusCompleted)

	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	assert.Empty(t, f.repo.Transactions())
	assert.Equal(t, models.QuotationStatusAccepted, f.repo.Quotation(quotationID).Status)
}
