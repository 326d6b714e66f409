/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Reads run against the pool; WithTx opens a pgx transaction and hands the callback a
 * `pgTx` that shares the same query code.
 *
 * @notes
 * - Money columns are NUMERIC and cross the driver as text so decimal values stay exact.
 * - DATE columns map to calendar.Day. Booking calendars are stored as a JSONB array of
 *   {startDate,endDate} day strings on the item row and rewritten under the row lock.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/jackc/pgerrcode: Maps unique violations to store errors.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pgReader
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pgReader: pgReader{q: db}, db: db}
}

// WithTx runs fn inside a database transaction and commits when fn returns nil.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgReader struct {
	q querier
}

const userColumns = `id, name, email, COALESCE(phone, ''), COALESCE(address, ''), role, earnings::text`

func (r pgReader) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var (
		user     domain.User
		earnings string
	)
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.q.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.Address, &user.Role, &earnings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Earnings, err = decimal.NewFromString(earnings); err != nil {
		return nil, fmt.Errorf("failed to parse earnings for user %s: %w", userID, err)
	}
	return &user, nil
}

const itemColumns = `id, owner_id, title, price_per_day::text, current_status, available, advance_bookings, updated_at`

func scanItem(row pgx.Row) (*domain.Item, error) {
	var (
		item     domain.Item
		price    string
		bookings []byte
	)
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &price, &item.Status, &item.Listed, &bookings, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if item.PricePerDay, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price for item %s: %w", item.ID, err)
	}
	if len(bookings) > 0 {
		if err := json.Unmarshal(bookings, &item.Bookings); err != nil {
			return nil, fmt.Errorf("failed to decode bookings for item %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func (r pgReader) FindItemByID(ctx context.Context, itemID uuid.UUID) (*domain.Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

const orderColumns = `o.id, o.renter_id, o.owner_id, o.item_id, o.start_date, o.end_date, o.status,
            o.owner_earning::text, o.platform_fee::text, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order             domain.Order
		start, end        time.Time
		earning, platform string
	)
	err := row.Scan(
		&order.ID,
		&order.RenterID,
		&order.OwnerID,
		&order.ItemID,
		&start,
		&end,
		&order.Status,
		&earning,
		&platform,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.StartDate = calendar.DayOf(start, time.UTC)
	order.EndDate = calendar.DayOf(end, time.UTC)
	if order.OwnerEarning, err = decimal.NewFromString(earning); err != nil {
		return nil, fmt.Errorf("failed to parse owner earning for order %s: %w", order.ID, err)
	}
	if order.PlatformFee, err = decimal.NewFromString(platform); err != nil {
		return nil, fmt.Errorf("failed to parse platform fee for order %s: %w", order.ID, err)
	}
	return &order, nil
}

func (r pgReader) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	payment, err := r.findPaymentByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	order.Payment = payment
	return order, nil
}

func (r pgReader) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit, offset := normalizeListWindow(filter)

	query := `SELECT ` + orderColumns + ` FROM orders o WHERE 1 = 1`
	args := []interface{}{}
	argPos := 1
	addFilter := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND "+clause, argPos)
		args = append(args, value)
		argPos++
	}
	if filter.RenterID != nil {
		addFilter("o.renter_id = $%d", *filter.RenterID)
	}
	if filter.OwnerID != nil {
		addFilter("o.owner_id = $%d", *filter.OwnerID)
	}
	if filter.ItemID != nil {
		addFilter("o.item_id = $%d", *filter.ItemID)
	}
	if filter.Status != nil {
		addFilter("o.status = $%d", string(*filter.Status))
	}
	query += fmt.Sprintf(" ORDER BY o.created_at DESC, o.id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Payments are attached in a second query so the order scan stays shared.
	for i := range orders {
		payment, err := r.findPaymentByOrderID(ctx, orders[i].ID)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		orders[i].Payment = payment
	}
	return orders, nil
}

const paymentColumns = `id, order_id, transaction_id, status, amount::text, gateway_data, invoice_url, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		payment domain.Payment
		amount  string
		data    []byte
	)
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.TransactionID,
		&payment.Status,
		&amount,
		&data,
		&payment.InvoiceURL,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount for payment %s: %w", payment.ID, err)
	}
	if len(data) > 0 {
		payment.GatewayData = json.RawMessage(data)
	}
	return &payment, nil
}

func (r pgReader) findPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
}

func (r pgReader) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
}

func (r pgReader) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return scanPayment(r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
}

func (r pgReader) FindInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	query := `SELECT payment_id, content_type, body, created_at FROM invoices WHERE payment_id = $1`
	err := r.q.QueryRow(ctx, query, paymentID).Scan(&invoice.PaymentID, &invoice.ContentType, &invoice.Body, &invoice.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// pgTx is the Tx implementation backed by a pgx transaction.
type pgTx struct {
	pgReader
	tx querier
}

func (t *pgTx) LockItem(ctx context.Context, itemID uuid.UUID) (*domain.Item, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get and lock item: %w", err)
	}
	return item, nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get and lock order: %w", err)
	}
	payment, err := t.findPaymentByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	order.Payment = payment
	return order, nil
}

func (t *pgTx) LockPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	payment, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 FOR UPDATE`, transactionID))
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("failed to get and lock payment: %w", err)
	}
	return payment, err
}

func (t *pgTx) LockStalePendingOrders(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	query := `
        SELECT ` + orderColumns + `
        FROM orders o
        WHERE o.status = 'PENDING'
          AND o.created_at <= $1
        ORDER BY o.id
        FOR UPDATE SKIP LOCKED
    `
	rows, err := t.tx.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stale pending orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (t *pgTx) LockItemsForOccupancy(ctx context.Context) ([]domain.Item, error) {
	query := `
        SELECT ` + itemColumns + `
        FROM items
        WHERE jsonb_array_length(advance_bookings) > 0
           OR current_status = 'OCCUPIED'
        ORDER BY id
        FOR UPDATE
    `
	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to lock items for occupancy: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (t *pgTx) SaveItemState(ctx context.Context, item *domain.Item) error {
	bookings := item.Bookings
	if bookings == nil {
		bookings = calendar.Calendar{}
	}
	encoded, err := json.Marshal(bookings)
	if err != nil {
		return fmt.Errorf("failed to encode bookings for item %s: %w", item.ID, err)
	}
	query := `
        UPDATE items
        SET current_status = $2,
            available = $3,
            advance_bookings = $4::jsonb,
            updated_at = NOW()
        WHERE id = $1
        RETURNING updated_at
    `
	err = t.tx.QueryRow(ctx, query, item.ID, string(item.Status), item.Listed, string(encoded)).Scan(&item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to save item state: %w", err)
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
        INSERT INTO orders (
            id, renter_id, owner_id, item_id, start_date, end_date, status,
            owner_earning, platform_fee, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $10)
    `
	_, err := t.tx.Exec(ctx, query,
		order.ID,
		order.RenterID,
		order.OwnerID,
		order.ItemID,
		order.StartDate.Time(),
		order.EndDate.Time(),
		string(order.Status),
		order.OwnerEarning.String(),
		order.PlatformFee.String(),
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.UpdatedAt = order.CreatedAt
	return nil
}

func (t *pgTx) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
        INSERT INTO payments (id, order_id, transaction_id, status, amount, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $6)
    `
	_, err := t.tx.Exec(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.TransactionID,
		string(payment.Status),
		payment.Amount.String(),
		payment.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && strings.Contains(pgErr.ConstraintName, "transaction_id") {
			return ErrDuplicateTransactionID
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	payment.UpdatedAt = payment.CreatedAt
	return nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	return expectOneRow(t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, orderID, string(status)))(ErrOrderNotFound)
}

func (t *pgTx) SettleOrder(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, ownerEarning, platformFee decimal.Decimal) error {
	query := `
        UPDATE orders
        SET status = $2,
            owner_earning = $3::numeric,
            platform_fee = $4::numeric,
            updated_at = NOW()
        WHERE id = $1
    `
	return expectOneRow(t.tx.Exec(ctx, query, orderID, string(status), ownerEarning.String(), platformFee.String()))(ErrOrderNotFound)
}

func (t *pgTx) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus) error {
	return expectOneRow(t.tx.Exec(ctx, `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1`, paymentID, string(status)))(ErrPaymentNotFound)
}

func (t *pgTx) UpdatePaymentGatewayData(ctx context.Context, paymentID uuid.UUID, data json.RawMessage) error {
	return expectOneRow(t.tx.Exec(ctx, `UPDATE payments SET gateway_data = $2::jsonb, updated_at = NOW() WHERE id = $1`, paymentID, string(data)))(ErrPaymentNotFound)
}

func (t *pgTx) DeleteUnpaidPayments(ctx context.Context, orderIDs []uuid.UUID) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE order_id = ANY($1::uuid[]) AND status = 'UNPAID'`, uuidTextArray(orderIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete unpaid payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteOrders(ctx context.Context, orderIDs []uuid.UUID) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = ANY($1::uuid[])`, uuidTextArray(orderIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) SaveInvoice(ctx context.Context, invoice *domain.Invoice, invoiceURL string) error {
	query := `
        INSERT INTO invoices (payment_id, content_type, body, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (payment_id) DO UPDATE
        SET content_type = EXCLUDED.content_type,
            body = EXCLUDED.body
    `
	if _, err := t.tx.Exec(ctx, query, invoice.PaymentID, invoice.ContentType, invoice.Body, invoice.CreatedAt); err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return expectOneRow(t.tx.Exec(ctx, `UPDATE payments SET invoice_url = $2, updated_at = NOW() WHERE id = $1`, invoice.PaymentID, invoiceURL))(ErrPaymentNotFound)
}

func (t *pgTx) IncrementOwnerEarnings(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) error {
	return expectOneRow(t.tx.Exec(ctx, `UPDATE users SET earnings = earnings + $2::numeric WHERE id = $1`, ownerID, amount.String()))(ErrUserNotFound)
}

// uuidTextArray renders ids as text so they encode without a parameter type, as
// the simple query protocol requires.
func uuidTextArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// expectOneRow turns a zero-row update into notFound.
func expectOneRow(tag pgconn.CommandTag, err error) func(notFound error) error {
	return func(notFound error) error {
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound
		}
		return nil
	}
}
