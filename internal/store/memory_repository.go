package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps all state in process. WithTx serializes transactions behind one
// mutex and works on a copy of the state that is swapped in on success, so a failed
// callback leaves nothing behind.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	users    map[uuid.UUID]domain.User
	items    map[uuid.UUID]domain.Item
	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment
	invoices map[uuid.UUID]domain.Invoice
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			users:    map[uuid.UUID]domain.User{},
			items:    map[uuid.UUID]domain.Item{},
			orders:   map[uuid.UUID]domain.Order{},
			payments: map[uuid.UUID]domain.Payment{},
			invoices: map[uuid.UUID]domain.Invoice{},
		},
		now: time.Now,
	}
}

// PutUser inserts or replaces a user.
func (r *MemoryRepository) PutUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[user.ID] = user
}

// PutItem inserts or replaces an item.
func (r *MemoryRepository) PutItem(item domain.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.Bookings = cloneCalendar(item.Bookings)
	r.state.items[item.ID] = item
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memTx{memReader: memReader{s: work}, now: r.now}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *MemoryRepository) read() memReader {
	return memReader{s: r.state}
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindUserByID(ctx, userID)
}

func (r *MemoryRepository) FindItemByID(ctx context.Context, itemID uuid.UUID) (*domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindItemByID(ctx, itemID)
}

func (r *MemoryRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindOrderByID(ctx, orderID)
}

func (r *MemoryRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().ListOrders(ctx, filter)
}

func (r *MemoryRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindPaymentByID(ctx, paymentID)
}

func (r *MemoryRepository) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindPaymentByTransactionID(ctx, transactionID)
}

func (r *MemoryRepository) FindInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().FindInvoiceByPaymentID(ctx, paymentID)
}

func (s *memState) clone() *memState {
	c := &memState{
		users:    make(map[uuid.UUID]domain.User, len(s.users)),
		items:    make(map[uuid.UUID]domain.Item, len(s.items)),
		orders:   make(map[uuid.UUID]domain.Order, len(s.orders)),
		payments: make(map[uuid.UUID]domain.Payment, len(s.payments)),
		invoices: make(map[uuid.UUID]domain.Invoice, len(s.invoices)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.items {
		v.Bookings = cloneCalendar(v.Bookings)
		c.items[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return c
}

func cloneCalendar(c calendar.Calendar) calendar.Calendar {
	if c == nil {
		return nil
	}
	return append(calendar.Calendar(nil), c...)
}

type memReader struct {
	s *memState
}

func (m memReader) FindUserByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	user, ok := m.s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (m memReader) FindItemByID(_ context.Context, itemID uuid.UUID) (*domain.Item, error) {
	item, ok := m.s.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	item.Bookings = cloneCalendar(item.Bookings)
	return &item, nil
}

func (m memReader) paymentForOrder(orderID uuid.UUID) *domain.Payment {
	for _, p := range m.s.payments {
		if p.OrderID == orderID {
			payment := p
			return &payment
		}
	}
	return nil
}

func (m memReader) FindOrderByID(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, ok := m.s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	order.Payment = m.paymentForOrder(orderID)
	return &order, nil
}

func (m memReader) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit, offset := normalizeListWindow(filter)

	var matched []domain.Order
	for _, order := range m.s.orders {
		if filter.RenterID != nil && order.RenterID != *filter.RenterID {
			continue
		}
		if filter.OwnerID != nil && order.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.ItemID != nil && order.ItemID != *filter.ItemID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		order.Payment = m.paymentForOrder(order.ID)
		matched = append(matched, order)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m memReader) FindPaymentByID(_ context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, ok := m.s.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &payment, nil
}

func (m memReader) FindPaymentByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	for _, p := range m.s.payments {
		if p.TransactionID == transactionID {
			payment := p
			return &payment, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m memReader) FindInvoiceByPaymentID(_ context.Context, paymentID uuid.UUID) (*domain.Invoice, error) {
	invoice, ok := m.s.invoices[paymentID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return &invoice, nil
}

// memTx runs with the repository mutex held, so its locks are no-ops.
type memTx struct {
	memReader
	now func() time.Time
}

func (t *memTx) LockItem(ctx context.Context, itemID uuid.UUID) (*domain.Item, error) {
	return t.FindItemByID(ctx, itemID)
}

func (t *memTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return t.FindOrderByID(ctx, orderID)
}

func (t *memTx) LockPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return t.FindPaymentByTransactionID(ctx, transactionID)
}

func (t *memTx) LockStalePendingOrders(_ context.Context, cutoff time.Time) ([]domain.Order, error) {
	var orders []domain.Order
	for _, order := range t.s.orders {
		if order.Status == domain.OrderPending && !order.CreatedAt.After(cutoff) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID.String() < orders[j].ID.String() })
	return orders, nil
}

func (t *memTx) LockItemsForOccupancy(_ context.Context) ([]domain.Item, error) {
	var items []domain.Item
	for _, item := range t.s.items {
		if len(item.Bookings) > 0 || item.Status == domain.ItemOccupied {
			item.Bookings = cloneCalendar(item.Bookings)
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID.String() < items[j].ID.String() })
	return items, nil
}

func (t *memTx) SaveItemState(_ context.Context, item *domain.Item) error {
	stored, ok := t.s.items[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	stored.Status = item.Status
	stored.Listed = item.Listed
	stored.Bookings = cloneCalendar(item.Bookings)
	stored.UpdatedAt = t.now()
	t.s.items[item.ID] = stored
	item.UpdatedAt = stored.UpdatedAt
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order *domain.Order) error {
	stored := *order
	stored.Payment = nil
	stored.UpdatedAt = stored.CreatedAt
	t.s.orders[order.ID] = stored
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, payment *domain.Payment) error {
	for _, p := range t.s.payments {
		if p.TransactionID == payment.TransactionID {
			return ErrDuplicateTransactionID
		}
	}
	stored := *payment
	stored.UpdatedAt = stored.CreatedAt
	t.s.payments[payment.ID] = stored
	payment.UpdatedAt = stored.UpdatedAt
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	order, ok := t.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = t.now()
	t.s.orders[orderID] = order
	return nil
}

func (t *memTx) SettleOrder(_ context.Context, orderID uuid.UUID, status domain.OrderStatus, ownerEarning, platformFee decimal.Decimal) error {
	order, ok := t.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	order.OwnerEarning = ownerEarning
	order.PlatformFee = platformFee
	order.UpdatedAt = t.now()
	t.s.orders[orderID] = order
	return nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, paymentID uuid.UUID, status domain.PaymentStatus) error {
	payment, ok := t.s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	payment.Status = status
	payment.UpdatedAt = t.now()
	t.s.payments[paymentID] = payment
	return nil
}

func (t *memTx) UpdatePaymentGatewayData(_ context.Context, paymentID uuid.UUID, data json.RawMessage) error {
	payment, ok := t.s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	payment.GatewayData = append(json.RawMessage(nil), data...)
	payment.UpdatedAt = t.now()
	t.s.payments[paymentID] = payment
	return nil
}

func (t *memTx) DeleteUnpaidPayments(_ context.Context, orderIDs []uuid.UUID) (int64, error) {
	targets := idSet(orderIDs)
	var deleted int64
	for id, p := range t.s.payments {
		if _, ok := targets[p.OrderID]; ok && p.Status == domain.PaymentUnpaid {
			delete(t.s.payments, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) DeleteOrders(_ context.Context, orderIDs []uuid.UUID) (int64, error) {
	var deleted int64
	for _, id := range orderIDs {
		if _, ok := t.s.orders[id]; ok {
			delete(t.s.orders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) SaveInvoice(_ context.Context, invoice *domain.Invoice, invoiceURL string) error {
	payment, ok := t.s.payments[invoice.PaymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	stored := *invoice
	stored.Body = append([]byte(nil), invoice.Body...)
	t.s.invoices[invoice.PaymentID] = stored

	url := invoiceURL
	payment.InvoiceURL = &url
	payment.UpdatedAt = t.now()
	t.s.payments[payment.ID] = payment
	return nil
}

func (t *memTx) IncrementOwnerEarnings(_ context.Context, ownerID uuid.UUID, amount decimal.Decimal) error {
	user, ok := t.s.users[ownerID]
	if !ok {
		return ErrUserNotFound
	}
	user.Earnings = user.Earnings.Add(amount)
	t.s.users[ownerID] = user
	return nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
