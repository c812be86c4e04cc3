package service

import (
	"context"
	"encoding/json"
	"testing"

	"carvo/internal/models"
	"carvo/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const platformAccount int64 = 1

type fixture struct {
	repo        *memstore.Store
	ledger      *LedgerService
	invoices    *InvoiceService
	orders      *OrderService
	payments    *PaymentService
	settlements *SettlementService

	admin    int64
	customer int64
	seller   int64
	agent    int64
	provider int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memstore.New()
	f := &fixture{repo: repo}

	f.admin = repo.AddUser(models.User{ID: platformAccount, Name: "Platform", Email: "admin@carvo.test", Role: models.RoleAdmin})
	f.customer = repo.AddUser(models.User{Name: "Asha", Email: "asha@example.com", Role: models.RoleCustomer})
	f.seller = repo.AddUser(models.User{Name: "Tuner Shop", Email: "shop@example.com", Role: models.RoleSeller})
	f.agent = repo.AddUser(models.User{Name: "Ravi", Email: "ravi@example.com", Role: models.RoleDeliveryAgent})
	f.provider = repo.AddUser(models.User{Name: "Wrap Studio", Email: "wrap@example.com", Role: models.RoleServiceProvider})

	f.ledger = NewLedgerService(repo, platformAccount, dec("0.10"))
	f.invoices = NewInvoiceService(repo, dec("10"), 14)
	f.orders = NewOrderService(repo, f.invoices, nil)
	f.payments = NewPaymentService(repo, f.ledger, PaymentSettings{
		MerchantVPA:  "carvo@upi",
		MerchantName: "Carvo",
	})
	f.settlements = NewSettlementService(repo, f.ledger, nil)
	return f
}

func (f *fixture) addPart(price string, stock int) int64 {
	return f.repo.AddPart(models.Part{
		Name:          "Carbon spoiler",
		Price:         dec(price),
		StockQuantity: stock,
		CategoryID:    1,
		SellerID:      f.seller,
	})
}

func (f *fixture) placeOrder(t *testing.T, partID int64, qty int) *OrderDetails {
	t.Helper()
	details, err := f.orders.PlaceOrder(context.Background(), f.customer, &PlaceOrderRequest{
		Items:           []OrderItemRequest{{PartID: partID, Quantity: qty}},
		ShippingAddress: "12 MG Road, Bengaluru",
	})
	require.NoError(t, err)
	return details
}

func (f *fixture) customerActor() Actor {
	return Actor{UserID: f.customer, Role: models.RoleCustomer}
}

func (f *fixture) adminActor() Actor {
	return Actor{UserID: f.admin, Role: models.RoleAdmin}
}

func (f *fixture) outboxTypes() []string {
	var types []string
	for _, e := range f.repo.Outbox() {
		types = append(types, e.EventType)
	}
	return types
}

func (f *fixture) lastOutbox(t *testing.T, eventType string, into interface{}) {
	t.Helper()
	events := f.repo.Outbox()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == eventType {
			require.NoError(t, json.Unmarshal(events[i].Payload, into))
			return
		}
	}
	t.Fatalf("no %s event in outbox", eventType)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
