package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/shopspring/decimal"
)

func seededRepository(t *testing.T) (*MemoryRepository, domain.User, domain.Item) {
	t.Helper()
	repo := NewMemoryRepository()
	owner := domain.User{ID: uuid.New(), Name: "Owner", Email: "owner@example.com", Role: domain.RoleUser, Earnings: decimal.Zero}
	item := domain.Item{
		ID:          uuid.New(),
		OwnerID:     owner.ID,
		Title:       "Camera",
		PricePerDay: decimal.NewFromInt(100),
		Status:      domain.ItemAvailable,
		Listed:      true,
	}
	repo.PutUser(owner)
	repo.PutItem(item)
	return repo, owner, item
}

func TestMemoryRepository_WithTxRollsBackOnError(t *testing.T) {
	repo, _, item := seededRepository(t)
	ctx := context.Background()
	boom := errors.New("gateway down")

	err := repo.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		locked.Bookings = locked.Bookings.Append(calendar.Range{Start: calendar.NewDay(2024, time.May, 1), End: calendar.NewDay(2024, time.May, 3)})
		locked.Status = domain.ItemOccupied
		if err := tx.SaveItemState(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	stored, err := repo.FindItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("FindItemByID returned error: %v", err)
	}
	if len(stored.Bookings) != 0 || stored.Status != domain.ItemAvailable {
		t.Fatalf("expected untouched item after rollback, got status=%s bookings=%v", stored.Status, stored.Bookings)
	}
}

func TestMemoryRepository_DuplicateTransactionID(t *testing.T) {
	repo, _, _ := seededRepository(t)
	ctx := context.Background()

	insert := func(orderID uuid.UUID) error {
		return repo.WithTx(ctx, func(tx Tx) error {
			return tx.CreatePayment(ctx, &domain.Payment{
				ID:            uuid.New(),
				OrderID:       orderID,
				TransactionID: "TXN-1",
				Status:        domain.PaymentUnpaid,
				Amount:        decimal.NewFromInt(300),
			})
		})
	}
	if err := insert(uuid.New()); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert(uuid.New()); !errors.Is(err, ErrDuplicateTransactionID) {
		t.Fatalf("expected ErrDuplicateTransactionID, got %v", err)
	}
}

func TestMemoryRepository_IncrementOwnerEarnings(t *testing.T) {
	repo, owner, _ := seededRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.WithTx(ctx, func(tx Tx) error {
			return tx.IncrementOwnerEarnings(ctx, owner.ID, decimal.RequireFromString("90.50"))
		})
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	stored, err := repo.FindUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("FindUserByID returned error: %v", err)
	}
	if !stored.Earnings.Equal(decimal.RequireFromString("271.50")) {
		t.Fatalf("expected 271.50 earnings, got %s", stored.Earnings)
	}

	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.IncrementOwnerEarnings(ctx, uuid.New(), decimal.NewFromInt(1))
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMemoryRepository_LockStalePendingOrders(t *testing.T) {
	repo, owner, item := seededRepository(t)
	ctx := context.Background()
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	newOrder := func(age time.Duration, status domain.OrderStatus) uuid.UUID {
		id := uuid.New()
		err := repo.WithTx(ctx, func(tx Tx) error {
			return tx.CreateOrder(ctx, &domain.Order{
				ID:        id,
				RenterID:  uuid.New(),
				OwnerID:   owner.ID,
				ItemID:    item.ID,
				Status:    status,
				CreatedAt: now.Add(-age),
			})
		})
		if err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
		return id
	}
	stale := newOrder(31*time.Minute, domain.OrderPending)
	boundary := newOrder(30*time.Minute, domain.OrderPending)
	newOrder(10*time.Minute, domain.OrderPending)
	newOrder(2*time.Hour, domain.OrderConfirmed)

	var locked []domain.Order
	err := repo.WithTx(ctx, func(tx Tx) error {
		var err error
		locked, err = tx.LockStalePendingOrders(ctx, now.Add(-30*time.Minute))
		return err
	})
	if err != nil {
		t.Fatalf("LockStalePendingOrders failed: %v", err)
	}

	got := map[uuid.UUID]bool{}
	for _, order := range locked {
		got[order.ID] = true
	}
	if len(locked) != 2 || !got[stale] || !got[boundary] {
		t.Fatalf("expected the 31m and 30m pending orders, got %d orders", len(locked))
	}
}

func TestMemoryRepository_ListOrdersFiltersAndPages(t *testing.T) {
	repo, owner, item := seededRepository(t)
	ctx := context.Background()
	renter := uuid.New()
	base := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

	err := repo.WithTx(ctx, func(tx Tx) error {
		for i := 0; i < 5; i++ {
			renterID := renter
			if i == 4 {
				renterID = uuid.New()
			}
			order := &domain.Order{
				ID:        uuid.New(),
				RenterID:  renterID,
				OwnerID:   owner.ID,
				ItemID:    item.ID,
				Status:    domain.OrderPending,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed orders failed: %v", err)
	}

	mine, err := repo.ListOrders(ctx, domain.OrderFilter{RenterID: &renter, Limit: 2})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(mine))
	}
	if !mine[0].CreatedAt.After(mine[1].CreatedAt) {
		t.Fatal("expected newest orders first")
	}

	rest, err := repo.ListOrders(ctx, domain.OrderFilter{RenterID: &renter, Limit: 10, Offset: 2})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected the remaining 2 renter orders, got %d", len(rest))
	}

	owned, err := repo.ListOrders(ctx, domain.OrderFilter{OwnerID: &owner.ID})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if len(owned) != 5 {
		t.Fatalf("expected all 5 orders for the owner, got %d", len(owned))
	}
}

func TestNormalizeListWindow(t *testing.T) {
	tests := []struct {
		name       string
		filter     domain.OrderFilter
		wantLimit  int
		wantOffset int
	}{
		{name: "defaults", filter: domain.OrderFilter{}, wantLimit: defaultListLimit, wantOffset: 0},
		{name: "clamps limit", filter: domain.OrderFilter{Limit: 5000}, wantLimit: maxListLimit, wantOffset: 0},
		{name: "negative offset", filter: domain.OrderFilter{Limit: 10, Offset: -4}, wantLimit: 10, wantOffset: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := normalizeListWindow(tt.filter)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Fatalf("expected (%d,%d), got (%d,%d)", tt.wantLimit, tt.wantOffset, limit, offset)
			}
		})
	}
}
