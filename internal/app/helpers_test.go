package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
	"github.com/shopspring/decimal"
)

type gatewayStub struct {
	mu            sync.Mutex
	initErr       error
	initDelay     time.Duration
	initCalls     int
	validation    *sslcommerz.ValidationResponse
	validationRaw json.RawMessage
	validateErr   error
}

func (g *gatewayStub) InitPayment(ctx context.Context, in sslcommerz.InitRequest) (*sslcommerz.InitResponse, error) {
	g.mu.Lock()
	g.initCalls++
	err, delay := g.initErr, g.initDelay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &sslcommerz.InitResponse{Status: "SUCCESS", GatewayPageURL: "https://pay.example/checkout/" + in.TransactionID}, nil
}

func (g *gatewayStub) ValidatePayment(ctx context.Context, validationID string) (*sslcommerz.ValidationResponse, json.RawMessage, error) {
	if g.validateErr != nil {
		return nil, nil, g.validateErr
	}
	return g.validation, g.validationRaw, nil
}

type publisherStub struct {
	mu     sync.Mutex
	routed []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routed = append(p.routed, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, key := range p.routed {
		if key == routingKey {
			n++
		}
	}
	return n
}

type fixture struct {
	repo      *store.MemoryRepository
	gateway   *gatewayStub
	publisher *publisherStub
	service   *Service
	owner     domain.User
	renter    domain.User
	admin     domain.User
	item      domain.Item
	now       time.Time
}

// newFixture seeds an owner, a renter, an admin and an AVAILABLE item priced 100/day.
// "Today" is 2024-03-01 in UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      store.NewMemoryRepository(),
		gateway:   &gatewayStub{},
		publisher: &publisherStub{},
		now:       time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
	f.owner = f.addUser("Owner", domain.RoleUser)
	f.renter = f.addUser("Renter", domain.RoleUser)
	f.admin = f.addUser("Admin", domain.RoleAdmin)
	f.item = f.addItem(f.owner.ID, domain.ItemAvailable)

	f.service = NewService(f.repo, f.gateway, f.publisher, Options{
		Location:            time.UTC,
		GatewayTimeout:      time.Second,
		OwnerEarningPercent: 90,
		InvoiceBaseURL:      "https://api.example",
	})
	f.service.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) addUser(name string, role domain.Role) domain.User {
	user := domain.User{
		ID:       uuid.New(),
		Name:     name,
		Email:    name + "@example.com",
		Phone:    "+8801700000000",
		Address:  "Chittagong",
		Role:     role,
		Earnings: decimal.Zero,
	}
	f.repo.PutUser(user)
	return user
}

func (f *fixture) addItem(ownerID uuid.UUID, status domain.ItemStatus, bookings ...calendar.Range) domain.Item {
	item := domain.Item{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       "DSLR Camera",
		PricePerDay: decimal.NewFromInt(100),
		Status:      status,
		Listed:      !status.IsHold(),
		Bookings:    bookings,
	}
	f.repo.PutItem(item)
	return item
}

func (f *fixture) actor(user domain.User) domain.Actor {
	return domain.Actor{UserID: user.ID, Role: user.Role}
}

func (f *fixture) storedItem(t *testing.T, id uuid.UUID) *domain.Item {
	t.Helper()
	item, err := f.repo.FindItemByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindItemByID returned error: %v", err)
	}
	return item
}

func (f *fixture) storedOrder(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	order, err := f.repo.FindOrderByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindOrderByID returned error: %v", err)
	}
	return order
}

func (f *fixture) book(t *testing.T, renter domain.User, itemID uuid.UUID, start, end string) *domain.Order {
	t.Helper()
	result, err := f.service.CreateOrder(context.Background(), renter.ID, CreateOrderInput{ItemID: itemID, StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("CreateOrder(%s..%s) returned error: %v", start, end, err)
	}
	return result.Order
}

func mustDay(t *testing.T, raw string) calendar.Day {
	t.Helper()
	d, err := calendar.ParseDay(raw, time.UTC)
	if err != nil {
		t.Fatalf("ParseDay(%q): %v", raw, err)
	}
	return d
}
