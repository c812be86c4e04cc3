package service

import (
	"context"
	"sync"
	"testing"

	"carvo/internal/apperr"
	"carvo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creditProvider(t *testing.T, f *fixture, amount string) {
	t.Helper()
	err := f.repo.CreateTransaction(context.Background(), &models.Transaction{
		UserID: f.provider,
		Amount: dec(amount),
		Type:   models.TransactionTypeCredit,
		Source: models.TransactionSourceCommission,
	})
	require.NoError(t, err)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditProvider(t, f, "900")

	debit, err := f.ledger.Withdraw(ctx, f.provider, dec("400"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeDebit, debit.Type)
	assert.Equal(t, models.TransactionSourceWithdrawal, debit.Source)

	balance, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "500", balance)
	assert.Contains(t, f.outboxTypes(), models.EventTypeWithdrawalRequested)

	_, err = f.ledger.Withdraw(ctx, f.provider, dec("500.01"))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidState))

	_, err = f.ledger.Withdraw(ctx, f.provider, dec("0"))
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestWithdraw_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditProvider(t, f, "100")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Withdraw(ctx, f.provider, dec("30"))
		}()
	}
	wg.Wait()

	balance, err := f.ledger.Balance(ctx, f.provider)
	require.NoError(t, err)
	assertDec(t, "10", balance)
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creditProvider(t, f, "100")
	creditProvider(t, f, "200")

	history, err := f.ledger.History(ctx, f.provider)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assertDec(t, "200", history[0].Amount)

	empty, err := f.ledger.History(ctx, f.customer)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
