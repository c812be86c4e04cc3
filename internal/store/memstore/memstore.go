// Package memstore is an in-memory store.Repository. Transactions are
// serialized by a single mutex and rolled back by restoring a snapshot, so the
// observable behaviour matches the Postgres store: conditional stock
// decrements, unique indexes and all-or-nothing units of work.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"carvo/internal/models"
	"carvo/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	users         map[int64]models.User
	parts         map[int64]models.Part
	orders        map[int64]models.Order
	orderItems    []models.OrderItem
	payments      map[int64]models.Payment
	invoices      map[int64]models.Invoice
	transactions  []models.Transaction
	quotations    map[int64]models.Quotation
	bookings      map[int64]models.Booking
	outbox        []models.OutboxEvent
	notifications []models.Notification
	processed     map[string]string
	nextID        int64
}

func newState() *state {
	return &state{
		users:      map[int64]models.User{},
		parts:      map[int64]models.Part{},
		orders:     map[int64]models.Order{},
		payments:   map[int64]models.Payment{},
		invoices:   map[int64]models.Invoice{},
		quotations: map[int64]models.Quotation{},
		bookings:   map[int64]models.Booking{},
		processed:  map[string]string{},
	}
}

func (st *state) clone() *state {
	c := &state{
		users:         make(map[int64]models.User, len(st.users)),
		parts:         make(map[int64]models.Part, len(st.parts)),
		orders:        make(map[int64]models.Order, len(st.orders)),
		orderItems:    append([]models.OrderItem(nil), st.orderItems...),
		payments:      make(map[int64]models.Payment, len(st.payments)),
		invoices:      make(map[int64]models.Invoice, len(st.invoices)),
		transactions:  append([]models.Transaction(nil), st.transactions...),
		quotations:    make(map[int64]models.Quotation, len(st.quotations)),
		bookings:      make(map[int64]models.Booking, len(st.bookings)),
		outbox:        append([]models.OutboxEvent(nil), st.outbox...),
		notifications: append([]models.Notification(nil), st.notifications...),
		processed:     make(map[string]string, len(st.processed)),
		nextID:        st.nextID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.parts {
		c.parts[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.invoices {
		c.invoices[k] = v
	}
	for k, v := range st.quotations {
		c.quotations[k] = v
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

type shared struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
}

// Store implements store.Repository in memory.
type Store struct {
	sh   *shared
	inTx bool
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{sh: &shared{st: newState(), failures: map[string]error{}}}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.sh.mu.Lock()
	return s.sh.mu.Unlock
}

func (s *Store) fail(op string) error {
	return s.sh.failures[op]
}

// FailOn makes every call of the named repository method return err until
// cleared with a nil error.
func (s *Store) FailOn(op string, err error) {
	defer s.lock()()
	if err == nil {
		delete(s.sh.failures, op)
		return
	}
	s.sh.failures[op] = err
}

// InTx runs fn with exclusive access and restores the previous state if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	snapshot := s.sh.st.clone()
	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.st = snapshot
		return err
	}
	return nil
}

func notFound(kind string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, id, store.ErrNotFound)
}

func duplicate(constraint string) error {
	return fmt.Errorf("%w: %s", store.ErrDuplicate, constraint)
}

// AddUser seeds a user and returns its id.
func (s *Store) AddUser(u models.User) int64 {
	defer s.lock()()
	st := s.sh.st
	if u.ID == 0 {
		u.ID = st.id()
	} else if u.ID > st.nextID {
		st.nextID = u.ID
	}
	u.CreatedAt = time.Now()
	st.users[u.ID] = u
	return u.ID
}

// AddPart seeds a part and returns its id.
func (s *Store) AddPart(p models.Part) int64 {
	defer s.lock()()
	st := s.sh.st
	p.ID = st.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	st.parts[p.ID] = p
	return p.ID
}

// AddQuotation seeds a quotation and returns its id.
func (s *Store) AddQuotation(q models.Quotation) int64 {
	defer s.lock()()
	st := s.sh.st
	q.ID = st.id()
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	st.quotations[q.ID] = q
	return q.ID
}

// AddBooking seeds a booking and returns its id.
func (s *Store) AddBooking(b models.Booking) int64 {
	defer s.lock()()
	st := s.sh.st
	b.ID = st.id()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	st.bookings[b.ID] = b
	return b.ID
}

// Part returns a copy of a part.
func (s *Store) Part(id int64) models.Part {
	defer s.lock()()
	return s.sh.st.parts[id]
}

// Quotation returns a copy of a quotation.
func (s *Store) Quotation(id int64) models.Quotation {
	defer s.lock()()
	return s.sh.st.quotations[id]
}

// Booking returns a copy of a booking.
func (s *Store) Booking(id int64) models.Booking {
	defer s.lock()()
	return s.sh.st.bookings[id]
}

// Orders returns every order sorted by id.
func (s *Store) Orders() []models.Order {
	defer s.lock()()
	out := make([]models.Order, 0, len(s.sh.st.orders))
	for _, o := range s.sh.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Payments returns every payment sorted by id.
func (s *Store) Payments() []models.Payment {
	defer s.lock()()
	out := make([]models.Payment, 0, len(s.sh.st.payments))
	for _, p := range s.sh.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoices returns every invoice sorted by id.
func (s *Store) Invoices() []models.Invoice {
	defer s.lock()()
	out := make([]models.Invoice, 0, len(s.sh.st.invoices))
	for _, inv := range s.sh.st.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transactions returns the ledger in insertion order.
func (s *Store) Transactions() []models.Transaction {
	defer s.lock()()
	return append([]models.Transaction(nil), s.sh.st.transactions...)
}

// Outbox returns queued events in insertion order.
func (s *Store) Outbox() []models.OutboxEvent {
	defer s.lock()()
	return append([]models.OutboxEvent(nil), s.sh.st.outbox...)
}

// Notifications returns notification rows in insertion order.
func (s *Store) Notifications() []models.Notification {
	defer s.lock()()
	return append([]models.Notification(nil), s.sh.st.notifications...)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer s.lock()()
	u, ok := s.sh.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) ListUserIDsByRole(ctx context.Context, role string) ([]int64, error) {
	defer s.lock()()
	var ids []int64
	for id, u := range s.sh.st.users {
		if u.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetPartByID(ctx context.Context, id int64) (*models.Part, error) {
	defer s.lock()()
	p, ok := s.sh.st.parts[id]
	if !ok {
		return nil, notFound("part", id)
	}
	return &p, nil
}

func (s *Store) DecrementStock(ctx context.Context, partID int64, quantity int) (bool, error) {
	defer s.lock()()
	if err := s.fail("DecrementStock"); err != nil {
		return false, err
	}
	p, ok := s.sh.st.parts[partID]
	if !ok || p.StockQuantity < quantity {
		return false, nil
	}
	p.StockQuantity -= quantity
	p.UpdatedAt = time.Now()
	s.sh.st.parts[partID] = p
	return true, nil
}

func (s *Store) IncrementStock(ctx context.Context, partID int64, quantity int) error {
	defer s.lock()()
	p, ok := s.sh.st.parts[partID]
	if !ok {
		return notFound("part", partID)
	}
	p.StockQuantity += quantity
	p.UpdatedAt = time.Now()
	s.sh.st.parts[partID] = p
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	defer s.lock()()
	if err := s.fail("CreateOrder"); err != nil {
		return err
	}
	st := s.sh.st
	if order.IdempotencyKey != nil {
		for _, o := range st.orders {
			if o.CustomerID == order.CustomerID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return duplicate("ux_orders_customer_idempotency")
			}
		}
	}
	order.ID = st.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	st.orders[order.ID] = *order
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer s.lock()()
	o, ok := s.sh.st.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return &o, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrderByID(ctx, id)
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error) {
	defer s.lock()()
	for _, o := range s.sh.st.orders {
		if o.CustomerID == customerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	defer s.lock()()
	o, ok := s.sh.st.orders[orderID]
	if !ok {
		return notFound("order", orderID)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.sh.st.orders[orderID] = o
	return nil
}

func (s *Store) SetOrderDelivery(ctx context.Context, orderID int64, agentID *int64, otp *string) error {
	defer s.lock()()
	o, ok := s.sh.st.orders[orderID]
	if !ok {
		return notFound("order", orderID)
	}
	o.DeliveryAgentID = agentID
	o.DeliveryOTP = otp
	o.UpdatedAt = time.Now()
	s.sh.st.orders[orderID] = o
	return nil
}

func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer s.lock()()
	if err := s.fail("CreateOrderItem"); err != nil {
		return err
	}
	item.ID = s.sh.st.id()
	s.sh.st.orderItems = append(s.sh.st.orderItems, *item)
	return nil
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	defer s.lock()()
	var items []models.OrderItem
	for _, it := range s.sh.st.orderItems {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	return items, nil
}

func (s *Store) GetSellerIDsByOrderID(ctx context.Context, orderID int64) ([]int64, error) {
	defer s.lock()()
	seen := map[int64]bool{}
	var ids []int64
	for _, it := range s.sh.st.orderItems {
		if it.OrderID != orderID {
			continue
		}
		sellerID := s.sh.st.parts[it.PartID].SellerID
		if !seen[sellerID] {
			seen[sellerID] = true
			ids = append(ids, sellerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer s.lock()()
	if err := s.fail("CreatePayment"); err != nil {
		return err
	}
	st := s.sh.st
	for _, p := range st.payments {
		if p.TransactionID == payment.TransactionID {
			return duplicate("payments_transaction_id_key")
		}
		if payment.QuotationID != nil && p.QuotationID != nil && *p.QuotationID == *payment.QuotationID {
			return duplicate("ux_payments_quotation")
		}
		if payment.BookingID != nil && p.BookingID != nil && *p.BookingID == *payment.BookingID {
			return duplicate("ux_payments_booking")
		}
		if payment.OrderID != nil && p.OrderID != nil && *p.OrderID == *payment.OrderID &&
			p.Status != models.PaymentStatusFailed && payment.Status != models.PaymentStatusFailed {
			return duplicate("ux_payments_order_open")
		}
	}
	payment.ID = st.id()
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	st.payments[payment.ID] = *payment
	return nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	defer s.lock()()
	p, ok := s.sh.st.payments[id]
	if !ok {
		return nil, notFound("payment", id)
	}
	return &p, nil
}

func (s *Store) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	defer s.lock()()
	for _, p := range s.sh.st.payments {
		if p.TransactionID == transactionID {
			found := p
			return &found, nil
		}
	}
	return nil, notFound("payment with transaction", transactionID)
}

func (s *Store) findPayment(match func(models.Payment) bool) *models.Payment {
	for _, p := range s.sh.st.payments {
		if match(p) {
			found := p
			return &found
		}
	}
	return nil
}

func (s *Store) FindPaymentByQuotationID(ctx context.Context, quotationID int64) (*models.Payment, error) {
	defer s.lock()()
	return s.findPayment(func(p models.Payment) bool {
		return p.QuotationID != nil && *p.QuotationID == quotationID
	}), nil
}

func (s *Store) FindPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	defer s.lock()()
	return s.findPayment(func(p models.Payment) bool {
		return p.BookingID != nil && *p.BookingID == bookingID
	}), nil
}

func (s *Store) FindOpenPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	defer s.lock()()
	return s.findPayment(func(p models.Payment) bool {
		return p.OrderID != nil && *p.OrderID == orderID && p.Status != models.PaymentStatusFailed
	}), nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	defer s.lock()()
	p, ok := s.sh.st.payments[payment.ID]
	if !ok {
		return notFound("payment", payment.ID)
	}
	p.Status = payment.Status
	p.TransactionReference = payment.TransactionReference
	p.UPITransactionID = payment.UPITransactionID
	p.UpdatedAt = time.Now()
	s.sh.st.payments[p.ID] = p
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	defer s.lock()()
	if err := s.fail("CreateInvoice"); err != nil {
		return err
	}
	st := s.sh.st
	if _, exists := st.invoices[invoice.OrderID]; exists {
		return duplicate("ux_invoices_order")
	}
	invoice.ID = st.id()
	invoice.CreatedAt = time.Now()
	st.invoices[invoice.OrderID] = *invoice
	return nil
}

func (s *Store) FindInvoiceByOrderID(ctx context.Context, orderID int64) (*models.Invoice, error) {
	defer s.lock()()
	inv, ok := s.sh.st.invoices[orderID]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *Store) UpdateInvoiceStatusByOrderID(ctx context.Context, orderID int64, status string) error {
	defer s.lock()()
	inv, ok := s.sh.st.invoices[orderID]
	if !ok {
		return nil
	}
	inv.Status = status
	s.sh.st.invoices[orderID] = inv
	return nil
}

func sameRef(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	defer s.lock()()
	if err := s.fail("CreateTransaction"); err != nil {
		return err
	}
	st := s.sh.st
	for _, t := range st.transactions {
		if t.UserID != txn.UserID || t.Source != txn.Source {
			continue
		}
		if sameRef(t.QuotationID, txn.QuotationID) || sameRef(t.BookingID, txn.BookingID) || sameRef(t.OrderID, txn.OrderID) {
			return duplicate("ux_transactions")
		}
	}
	txn.ID = st.id()
	txn.CreatedAt = time.Now()
	st.transactions = append(st.transactions, *txn)
	return nil
}

func (s *Store) ListTransactionsByUserID(ctx context.Context, userID int64) ([]models.Transaction, error) {
	defer s.lock()()
	var out []models.Transaction
	for i := len(s.sh.st.transactions) - 1; i >= 0; i-- {
		if t := s.sh.st.transactions[i]; t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	defer s.lock()()
	balance := decimal.Zero
	for _, t := range s.sh.st.transactions {
		if t.UserID != userID {
			continue
		}
		if t.Type == models.TransactionTypeCredit {
			balance = balance.Add(t.Amount)
		} else {
			balance = balance.Sub(t.Amount)
		}
	}
	return balance, nil
}

// LockAccount is a no-op: transactions already hold the store mutex.
func (s *Store) LockAccount(ctx context.Context, userID int64) error {
	return nil
}

func (s *Store) GetQuotationForUpdate(ctx context.Context, id int64) (*models.Quotation, error) {
	defer s.lock()()
	q, ok := s.sh.st.quotations[id]
	if !ok {
		return nil, notFound("quotation", id)
	}
	return &q, nil
}

func (s *Store) UpdateQuotationStatus(ctx context.Context, id int64, status string) error {
	defer s.lock()()
	q, ok := s.sh.st.quotations[id]
	if !ok {
		return notFound("quotation", id)
	}
	q.Status = status
	q.UpdatedAt = time.Now()
	s.sh.st.quotations[id] = q
	return nil
}

func (s *Store) GetBookingForUpdate(ctx context.Context, id int64) (*models.Booking, error) {
	defer s.lock()()
	b, ok := s.sh.st.bookings[id]
	if !ok {
		return nil, notFound("booking", id)
	}
	return &b, nil
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	defer s.lock()()
	b, ok := s.sh.st.bookings[id]
	if !ok {
		return notFound("booking", id)
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	s.sh.st.bookings[id] = b
	return nil
}

func (s *Store) InsertOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	defer s.lock()()
	if err := s.fail("InsertOutboxEvent"); err != nil {
		return err
	}
	st := s.sh.st
	for _, e := range st.outbox {
		if e.EventID == event.EventID {
			return duplicate("outbox_events_event_id_key")
		}
	}
	event.ID = st.id()
	event.CreatedAt = time.Now()
	st.outbox = append(st.outbox, *event)
	return nil
}

func (s *Store) FetchUnpublishedOutbox(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	defer s.lock()()
	var out []models.OutboxEvent
	for _, e := range s.sh.st.outbox {
		if len(out) >= limit {
			break
		}
		if e.PublishedAt == nil && e.AttemptCount < maxAttempts {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) updateOutbox(id int64, fn func(*models.OutboxEvent)) error {
	for i := range s.sh.st.outbox {
		if s.sh.st.outbox[i].ID == id {
			fn(&s.sh.st.outbox[i])
			return nil
		}
	}
	return notFound("outbox event", id)
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	defer s.lock()()
	now := time.Now()
	return s.updateOutbox(id, func(e *models.OutboxEvent) { e.PublishedAt = &now })
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, cause error) error {
	defer s.lock()()
	msg := cause.Error()
	return s.updateOutbox(id, func(e *models.OutboxEvent) {
		e.AttemptCount++
		e.LastError = &msg
	})
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	defer s.lock()()
	if err := s.fail("CreateNotification"); err != nil {
		return err
	}
	if _, ok := s.sh.st.users[n.UserID]; !ok {
		return errors.New("notifications_user_id_fkey violated")
	}
	n.ID = s.sh.st.id()
	n.CreatedAt = time.Now()
	s.sh.st.notifications = append(s.sh.st.notifications, *n)
	return nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	defer s.lock()()
	_, ok := s.sh.st.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	defer s.lock()()
	s.sh.st.processed[eventID] = eventType
	return nil
}
