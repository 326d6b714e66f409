/**
 * @description
 * This file defines the storage contract of the booking service. Reads that need no
 * isolation go through `Reader`; every multi-row change runs inside `Repository.WithTx`
 * and uses the row locks exposed by `Tx`.
 *
 * @notes
 * - Lock order inside a transaction is order -> payment -> item, and items are always
 *   locked in ascending id order when more than one is needed.
 * - Implementations: PostgresRepository (pgx) and MemoryRepository (tests, local runs).
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrItemNotFound           = errors.New("item not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrDuplicateTransactionID = errors.New("duplicate payment transaction id")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Reader holds the lookups that are safe outside a transaction.
type Reader interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindItemByID(ctx context.Context, itemID uuid.UUID) (*domain.Item, error)
	// FindOrderByID returns the order with its payment attached, if any.
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	FindInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Invoice, error)
}

// Repository is the entry point the application layer depends on.
type Repository interface {
	Reader
	// WithTx runs fn in a single transaction. A non-nil error from fn rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit of work handed to WithTx callbacks.
type Tx interface {
	Reader

	// Row locks (SELECT ... FOR UPDATE).
	LockItem(ctx context.Context, itemID uuid.UUID) (*domain.Item, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	LockPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	// LockStalePendingOrders locks PENDING orders created at or before cutoff. Orders
	// already locked by another transaction are skipped.
	LockStalePendingOrders(ctx context.Context, cutoff time.Time) ([]domain.Order, error)
	// LockItemsForOccupancy locks every item that has bookings or is OCCUPIED, by id.
	LockItemsForOccupancy(ctx context.Context) ([]domain.Item, error)

	// Item state
	SaveItemState(ctx context.Context, item *domain.Item) error

	// Orders and payments
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error
	SettleOrder(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, ownerEarning, platformFee decimal.Decimal) error
	UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus) error
	UpdatePaymentGatewayData(ctx context.Context, paymentID uuid.UUID, data json.RawMessage) error
	DeleteUnpaidPayments(ctx context.Context, orderIDs []uuid.UUID) (int64, error)
	DeleteOrders(ctx context.Context, orderIDs []uuid.UUID) (int64, error)

	// Settlement side effects
	SaveInvoice(ctx context.Context, invoice *domain.Invoice, invoiceURL string) error
	// IncrementOwnerEarnings adds amount to the owner's running total in one statement.
	IncrementOwnerEarnings(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) error
}

func normalizeListWindow(filter domain.OrderFilter) (int, int) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
