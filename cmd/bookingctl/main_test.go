package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/config"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/shopspring/decimal"
)

func seedOrder(t *testing.T, repo *store.MemoryRepository, status domain.OrderStatus, createdAt time.Time) domain.Order {
	t.Helper()
	r, _ := calendar.NewRange(calendar.NewDay(2099, time.May, 1), calendar.NewDay(2099, time.May, 2))
	item := domain.Item{ID: uuid.New(), OwnerID: uuid.New(), PricePerDay: decimal.NewFromInt(10), Status: domain.ItemAvailable, Bookings: calendar.Calendar{r}}
	repo.PutItem(item)
	order := domain.Order{
		ID: uuid.New(), RenterID: uuid.New(), OwnerID: item.OwnerID, ItemID: item.ID,
		StartDate: r.Start, EndDate: r.End, Status: status, CreatedAt: createdAt,
	}
	err := repo.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.CreateOrder(context.Background(), &order); err != nil {
			return err
		}
		return tx.CreatePayment(context.Background(), &domain.Payment{
			ID: uuid.New(), OrderID: order.ID, TransactionID: "tran_" + order.ID.String(),
			Status: domain.PaymentUnpaid, Amount: decimal.NewFromInt(20), CreatedAt: createdAt,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return order
}

func TestListOrders_FiltersByStatus(t *testing.T) {
	repo := store.NewMemoryRepository()
	pending := seedOrder(t, repo, domain.OrderPending, time.Now())
	seedOrder(t, repo, domain.OrderConfirmed, time.Now())

	var out bytes.Buffer
	if err := listOrders(context.Background(), repo, []string{"-status", "pending"}, &out); err != nil {
		t.Fatalf("listOrders returned error: %v", err)
	}
	if lines := strings.Count(out.String(), "\n"); lines != 1 || !strings.Contains(out.String(), pending.ID.String()) {
		t.Fatalf("expected only the pending order, got:\n%s", out.String())
	}

	if err := listOrders(context.Background(), repo, []string{"-status", "lost"}, &out); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestGetOrder_PrintsJSON(t *testing.T) {
	repo := store.NewMemoryRepository()
	order := seedOrder(t, repo, domain.OrderPending, time.Now())

	var out bytes.Buffer
	if err := getOrder(context.Background(), repo, []string{order.ID.String()}, &out); err != nil {
		t.Fatalf("getOrder returned error: %v", err)
	}
	if !strings.Contains(out.String(), `"transactionId": "tran_`) {
		t.Fatalf("expected payment in output, got:\n%s", out.String())
	}
	if err := getOrder(context.Background(), repo, []string{"not-a-uuid"}, &out); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
}

func TestRunSweep_RequiresConfirmation(t *testing.T) {
	repo := store.NewMemoryRepository()
	stale := seedOrder(t, repo, domain.OrderPending, time.Now().Add(-2*time.Hour))
	cfg := config.Config{BusinessTimezone: "UTC", UnpaidOrderTTLMinutes: 30}

	var out bytes.Buffer
	if err := runSweep(context.Background(), repo, cfg, "expire", nil, strings.NewReader("no\n"), &out); err != nil {
		t.Fatalf("runSweep returned error: %v", err)
	}
	if _, err := repo.FindOrderByID(context.Background(), stale.ID); err != nil {
		t.Fatalf("declined sweep must not expire anything: %v", err)
	}

	out.Reset()
	if err := runSweep(context.Background(), repo, cfg, "expire", []string{"-yes"}, strings.NewReader(""), &out); err != nil {
		t.Fatalf("runSweep returned error: %v", err)
	}
	if !strings.Contains(out.String(), `"ordersExpired": 1`) {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}
