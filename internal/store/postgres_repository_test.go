package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/shopspring/decimal"
)

var errNoServer = errors.New("no server")

type recordedStatement struct {
	sql  string
	args []any
}

// recordingQuerier captures statements instead of sending them. Exec reports one
// affected row; queries find nothing.
type recordingQuerier struct {
	mu         sync.Mutex
	statements []recordedStatement
}

func (q *recordingQuerier) record(sql string, args []any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statements = append(q.statements, recordedStatement{sql: sql, args: args})
}

func (q *recordingQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.record(sql, args)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *recordingQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.record(sql, args)
	return nil, errNoServer
}

func (q *recordingQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.record(sql, args)
	return emptyRow{}
}

type emptyRow struct{}

func (emptyRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func newRecordingTx() (*pgTx, *recordingQuerier) {
	q := &recordingQuerier{}
	return &pgTx{pgReader: pgReader{q: q}, tx: q}, q
}

// encodeLikeSimpleProtocol renders an argument the way pgx does in
// QueryExecModeSimpleProtocol: text format with no parameter type.
func encodeLikeSimpleProtocol(m *pgtype.Map, arg any) error {
	_, err := m.Encode(0, pgtype.TextFormatCode, arg, nil)
	return err
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func TestPostgresStatements_ArgumentsEncodeWithoutTypeHints(t *testing.T) {
	ctx := context.Background()
	tx, q := newRecordingTx()

	id := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	status := domain.OrderPending
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	start := calendar.NewDay(2024, time.March, 5)
	r, _ := calendar.NewRange(start, start.AddDays(2))

	_, _ = tx.FindUserByID(ctx, id)
	_, _ = tx.FindItemByID(ctx, id)
	_, _ = tx.FindOrderByID(ctx, id)
	_, _ = tx.ListOrders(ctx, domain.OrderFilter{RenterID: &id, OwnerID: &id, ItemID: &id, Status: &status, Limit: 20, Offset: 40})
	_, _ = tx.FindPaymentByID(ctx, id)
	_, _ = tx.FindPaymentByTransactionID(ctx, "tran_1")
	_, _ = tx.FindInvoiceByPaymentID(ctx, id)
	_, _ = tx.LockItem(ctx, id)
	_, _ = tx.LockOrder(ctx, id)
	_, _ = tx.LockPaymentByTransactionID(ctx, "tran_1")
	_, _ = tx.LockStalePendingOrders(ctx, now.Add(-30*time.Minute))
	_, _ = tx.LockItemsForOccupancy(ctx)
	_ = tx.SaveItemState(ctx, &domain.Item{ID: id, Status: domain.ItemOccupied, Bookings: calendar.Calendar{r}})
	_ = tx.CreateOrder(ctx, &domain.Order{
		ID: id, RenterID: ids[0], OwnerID: ids[1], ItemID: id,
		StartDate: r.Start, EndDate: r.End, Status: domain.OrderPending,
		OwnerEarning: decimal.Zero, PlatformFee: decimal.Zero, CreatedAt: now,
	})
	_ = tx.CreatePayment(ctx, &domain.Payment{ID: id, OrderID: id, TransactionID: "tran_1", Status: domain.PaymentUnpaid, Amount: decimal.RequireFromString("300.00"), CreatedAt: now})
	_ = tx.UpdateOrderStatus(ctx, id, domain.OrderConfirmed)
	_ = tx.SettleOrder(ctx, id, domain.OrderConfirmed, decimal.RequireFromString("270.00"), decimal.RequireFromString("30.00"))
	_ = tx.UpdatePaymentStatus(ctx, id, domain.PaymentPaid)
	_ = tx.UpdatePaymentGatewayData(ctx, id, json.RawMessage(`{"status":"VALID"}`))
	_, _ = tx.DeleteUnpaidPayments(ctx, ids)
	_, _ = tx.DeleteOrders(ctx, ids)
	_ = tx.SaveInvoice(ctx, &domain.Invoice{PaymentID: id, ContentType: "text/plain", Body: []byte("invoice"), CreatedAt: now}, "https://api.example/payments/x/invoice")
	_ = tx.IncrementOwnerEarnings(ctx, id, decimal.RequireFromString("270.00"))

	if len(q.statements) < 24 {
		t.Fatalf("expected every statement to be recorded, got %d", len(q.statements))
	}
	m := pgtype.NewMap()
	for _, st := range q.statements {
		for i, arg := range st.args {
			if err := encodeLikeSimpleProtocol(m, arg); err != nil {
				t.Errorf("$%d (%T) of %q cannot be sent as untyped text: %v", i+1, arg, compactSQL(st.sql), err)
			}
		}
	}
}

func TestPostgresDeletes_SendIDsAsUUIDArrayText(t *testing.T) {
	ctx := context.Background()
	tx, q := newRecordingTx()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	if n, err := tx.DeleteUnpaidPayments(ctx, ids); err != nil || n != 1 {
		t.Fatalf("DeleteUnpaidPayments = %d, %v", n, err)
	}
	if n, err := tx.DeleteOrders(ctx, ids); err != nil || n != 1 {
		t.Fatalf("DeleteOrders = %d, %v", n, err)
	}
	if n, err := tx.DeleteOrders(ctx, nil); err != nil || n != 0 {
		t.Fatalf("empty delete must not reach the database, got %d, %v", n, err)
	}

	if len(q.statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(q.statements))
	}
	for _, st := range q.statements {
		if !strings.Contains(st.sql, "ANY($1::uuid[])") {
			t.Fatalf("ids must be cast to uuid[] in SQL: %q", compactSQL(st.sql))
		}
		got, ok := st.args[0].([]string)
		if !ok || len(got) != 2 || got[0] != ids[0].String() || got[1] != ids[1].String() {
			t.Fatalf("expected ids as text, got %#v", st.args[0])
		}
	}
}

func TestPostgresUpdates_ZeroRowsMapToNotFound(t *testing.T) {
	tx := &pgTx{pgReader: pgReader{q: zeroRowQuerier{}}, tx: zeroRowQuerier{}}
	ctx := context.Background()

	if err := tx.UpdateOrderStatus(ctx, uuid.New(), domain.OrderCompleted); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := tx.UpdatePaymentStatus(ctx, uuid.New(), domain.PaymentPaid); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if err := tx.IncrementOwnerEarnings(ctx, uuid.New(), decimal.NewFromInt(1)); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := tx.LockItem(ctx, uuid.New()); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

type zeroRowQuerier struct{}

func (zeroRowQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (zeroRowQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errNoServer
}

func (zeroRowQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return emptyRow{}
}
