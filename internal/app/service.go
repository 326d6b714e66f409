/**
 * @description
 * This file contains the core business logic of the booking service. The `Service`
 * struct orchestrates order creation, payment reconciliation, and the manual status
 * changes on orders and items, coordinating between the repository, the payment
 * gateway, and the message broker.
 *
 * Key features:
 * - Every calendar or status mutation runs inside one repository transaction that
 *   starts by locking the rows it will change.
 * - Gateway initialisation happens inside the order transaction with a bounded timeout,
 *   so a gateway failure leaves nothing behind.
 * - Events are published after commit and never affect the committed outcome.
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/availability, internal/calendar, internal/domain, internal/store
 * - pkg/rabbitmq, pkg/sslcommerz: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/availability"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/rabbitmq"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
	"github.com/shopspring/decimal"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	publishTimeout        = 5 * time.Second
	orderCreateScope      = "order_create"
)

// PaymentGateway is the subset of the gateway client the service calls.
type PaymentGateway interface {
	InitPayment(ctx context.Context, in sslcommerz.InitRequest) (*sslcommerz.InitResponse, error)
	ValidatePayment(ctx context.Context, validationID string) (*sslcommerz.ValidationResponse, json.RawMessage, error)
}

// RateLimiter counts attempts per subject in a sliding window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options carries the tunables of the service.
type Options struct {
	Location             *time.Location
	GatewayTimeout       time.Duration
	OwnerEarningPercent  int
	InvoiceBaseURL       string
	EventsExchange       string
	OrderCreatePerMinute int
}

// Service provides the core business logic for orders and payments.
type Service struct {
	repo      store.Repository
	gateway   PaymentGateway
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	invoices  *InvoiceRenderer

	loc                  *time.Location
	gatewayTimeout       time.Duration
	ownerShare           decimal.Decimal
	invoiceBaseURL       string
	exchange             string
	orderCreatePerMinute int

	now              func() time.Time
	newTransactionID func() string
}

// NewService creates a new booking service instance.
func NewService(repo store.Repository, gateway PaymentGateway, publisher rabbitmq.Publisher, opts Options) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	percent := opts.OwnerEarningPercent
	if percent <= 0 || percent > 100 {
		percent = 90
	}
	exchange := strings.TrimSpace(opts.EventsExchange)
	if exchange == "" {
		exchange = "rentopia.events"
	}

	s := &Service{
		repo:                 repo,
		gateway:              gateway,
		publisher:            publisher,
		invoices:             NewInvoiceRenderer(loc),
		loc:                  loc,
		gatewayTimeout:       timeout,
		ownerShare:           decimal.NewFromInt(int64(percent)).Div(decimal.NewFromInt(100)),
		invoiceBaseURL:       strings.TrimSuffix(opts.InvoiceBaseURL, "/"),
		exchange:             exchange,
		orderCreatePerMinute: opts.OrderCreatePerMinute,
		now:                  time.Now,
	}
	s.newTransactionID = s.generateTransactionID
	return s
}

// SetRateLimiter enables per-renter throttling of order creation.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// SetClock replaces the wall clock; used by tests and the operator CLI.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Location is the business timezone that defines "today".
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) today() calendar.Day {
	return calendar.DayOf(s.now(), s.loc)
}

func (s *Service) generateTransactionID() string {
	return fmt.Sprintf("tran_%d_%s", s.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// split divides a settled amount into the owner's share and the platform fee.
func (s *Service) split(amount decimal.Decimal) (ownerEarning, platformFee decimal.Decimal) {
	ownerEarning = amount.Mul(s.ownerShare).Round(2)
	return ownerEarning, amount.Sub(ownerEarning)
}

func (s *Service) invoiceURL(paymentID uuid.UUID) string {
	return fmt.Sprintf("%s/payments/%s/invoice", s.invoiceBaseURL, paymentID)
}

type outboundEvent struct {
	routingKey string
	body       interface{}
}

// publish sends events after a commit. Failures are logged; the committed state stands.
func (s *Service) publish(events ...outboundEvent) {
	for _, ev := range events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, s.exchange, ev.routingKey, ev.body); err != nil {
			log.Printf("level=warn component=booking_service msg=\"event publish failed\" routing_key=%s err=%v", ev.routingKey, err)
		}
		cancel()
	}
}

// releaseHold removes an order's interval from its item calendar and lets the state
// machine free the item when that interval was holding today. Must run inside tx after
// the order row is locked.
func (s *Service) releaseHold(ctx context.Context, tx store.Tx, order *domain.Order) error {
	item, err := tx.LockItem(ctx, order.ItemID)
	if err != nil {
		return err
	}
	bookings, removed := item.Bookings.Remove(order.Range())
	if !removed {
		log.Printf("level=warn component=booking_service msg=\"calendar interval already gone\" order_id=%s item_id=%s range=%s", order.ID, item.ID, order.Range())
		return nil
	}
	item.Bookings = bookings
	availability.OnHoldReleased(item, order.Range(), s.today())
	return tx.SaveItemState(ctx, item)
}
