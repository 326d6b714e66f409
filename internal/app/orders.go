package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/availability"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
	"github.com/shopspring/decimal"
)

// CreateOrderInput is a booking request. Dates are YYYY-MM-DD or RFC 3339 and are
// reduced to calendar days in the business timezone.
type CreateOrderInput struct {
	ItemID    uuid.UUID
	StartDate string
	EndDate   string
}

type CreateOrderResult struct {
	PaymentURL string        `json:"paymentUrl"`
	Order      *domain.Order `json:"order"`
}

type PaymentSession struct {
	PaymentURL string `json:"paymentUrl"`
}

// CreateOrder reserves a day range on an item and opens a payment session for it.
// The item row is locked before the overlap check, so concurrent requests for the same
// item are serialized. Everything, including the gateway call, happens in one
// transaction; a gateway error is returned as-is after rollback.
func (s *Service) CreateOrder(ctx context.Context, renterID uuid.UUID, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.ItemID == uuid.Nil {
		return nil, validationError("item is required", nil)
	}
	if strings.TrimSpace(in.StartDate) == "" || strings.TrimSpace(in.EndDate) == "" {
		return nil, validationError("start date and end date are required", nil)
	}
	start, err := calendar.ParseDay(in.StartDate, s.loc)
	if err != nil {
		return nil, validationError("invalid start date", err)
	}
	end, err := calendar.ParseDay(in.EndDate, s.loc)
	if err != nil {
		return nil, validationError("invalid end date", err)
	}
	r, err := calendar.NewRange(start, end)
	if err != nil {
		return nil, validationError("end date must be the same as or after start date", err)
	}

	if err := s.checkOrderRateLimit(ctx, renterID); err != nil {
		return nil, err
	}

	renter, err := s.repo.FindUserByID(ctx, renterID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, notFoundError("renter not found", err)
		}
		return nil, fmt.Errorf("failed to load renter: %w", err)
	}
	if !renter.HasCompleteProfile() {
		return nil, validationError("please add a phone number and address to your profile before booking", nil)
	}

	var result *CreateOrderResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		item, err := tx.LockItem(ctx, in.ItemID)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				return notFoundError("item not found", err)
			}
			return err
		}
		if item.OwnerID == renterID {
			return conflictError("you cannot rent your own item", nil)
		}
		if !item.PricePerDay.IsPositive() {
			return validationError("item has no price per day", nil)
		}

		today := s.today()
		if err := availability.CheckBookable(item, r, today); err != nil {
			return conflictError("item is not available for today", err)
		}
		if blocking, ok := item.Bookings.FindOverlap(r); ok {
			return conflictError(fmt.Sprintf("item is already booked from %s to %s", blocking.Start, blocking.End), nil)
		}

		amount := item.PricePerDay.Mul(decimal.NewFromInt(int64(r.Days())))

		availability.OnBookingCreated(item, r, today)
		item.Bookings = item.Bookings.Append(r)
		if err := tx.SaveItemState(ctx, item); err != nil {
			return err
		}

		now := s.now().UTC()
		order := &domain.Order{
			ID:           uuid.New(),
			RenterID:     renterID,
			OwnerID:      item.OwnerID,
			ItemID:       item.ID,
			StartDate:    r.Start,
			EndDate:      r.End,
			Status:       domain.OrderPending,
			OwnerEarning: decimal.Zero,
			PlatformFee:  decimal.Zero,
			CreatedAt:    now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		payment := &domain.Payment{
			ID:            uuid.New(),
			OrderID:       order.ID,
			TransactionID: s.newTransactionID(),
			Status:        domain.PaymentUnpaid,
			Amount:        amount,
			CreatedAt:     now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		order.Payment = payment

		session, err := s.initGatewaySession(ctx, renter, item, payment)
		if err != nil {
			return err
		}
		result = &CreateOrderResult{PaymentURL: session.GatewayPageURL, Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := result.Order
	log.Printf("level=info component=booking_service msg=\"order created\" order_id=%s item_id=%s renter_id=%s range=%s amount=%s", order.ID, order.ItemID, renterID, order.Range(), order.Payment.Amount)
	s.publish(outboundEvent{domain.RoutingOrderCreated, domain.OrderCreatedEvent{
		OrderID:       order.ID,
		ItemID:        order.ItemID,
		RenterID:      order.RenterID,
		OwnerID:       order.OwnerID,
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.Amount,
		StartDate:     order.StartDate,
		EndDate:       order.EndDate,
		OccurredAt:    order.CreatedAt,
	}})
	return result, nil
}

// initGatewaySession calls the gateway under the configured timeout. Errors are not wrapped.
func (s *Service) initGatewaySession(ctx context.Context, renter *domain.User, item *domain.Item, payment *domain.Payment) (*sslcommerz.InitResponse, error) {
	if s.gateway == nil {
		return nil, newError(KindUpstream, "payment gateway is not configured", nil)
	}
	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	session, err := s.gateway.InitPayment(gatewayCtx, sslcommerz.InitRequest{
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		CustomerName:  renter.Name,
		CustomerEmail: renter.Email,
		CustomerPhone: renter.Phone,
		CustomerAddr:  renter.Address,
		ProductName:   item.Title,
	})
	if err != nil {
		log.Printf("level=warn component=booking_service msg=\"payment gateway init failed\" transaction_id=%s err=%v", payment.TransactionID, err)
		return nil, err
	}
	return session, nil
}

func (s *Service) checkOrderRateLimit(ctx context.Context, renterID uuid.UUID) error {
	if s.limiter == nil || s.orderCreatePerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, orderCreateScope, renterID.String(), s.orderCreatePerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=booking_service msg=\"rate limiter unavailable; allowing request\" renter_id=%s err=%v", renterID, err)
		return nil
	}
	if count > s.orderCreatePerMinute {
		return &Error{Kind: KindRateLimited, Message: "too many booking attempts; try again later", RetryAfterSeconds: retryAfter}
	}
	return nil
}

// GetOrder returns an order visible to the actor: its renter, its owner, or an admin.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, notFoundError("order not found", err)
		}
		return nil, err
	}
	if !actor.IsAdmin() && !order.InvolvesUser(actor.UserID) {
		return nil, forbiddenError("you are not permitted to view this order")
	}
	return order, nil
}

// ListOrders lists orders for a filter. Non-admins must scope the filter to themselves
// as renter or owner.
func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, validationError(fmt.Sprintf("unknown order status %q", *filter.Status), nil)
	}
	if !actor.IsAdmin() {
		if filter.RenterID == nil && filter.OwnerID == nil {
			return nil, forbiddenError("only administrators can list all orders")
		}
		if filter.RenterID != nil && *filter.RenterID != actor.UserID {
			return nil, forbiddenError("you can only list your own orders")
		}
		if filter.OwnerID != nil && *filter.OwnerID != actor.UserID {
			return nil, forbiddenError("you can only list orders for your own items")
		}
	}
	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListRenterOrders lists the actor's own bookings.
func (s *Service) ListRenterOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error) {
	filter.RenterID = &actor.UserID
	filter.OwnerID = nil
	return s.ListOrders(ctx, actor, filter)
}

// ListOwnerOrders lists bookings placed on the actor's items.
func (s *Service) ListOwnerOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error) {
	filter.OwnerID = &actor.UserID
	filter.RenterID = nil
	return s.ListOrders(ctx, actor, filter)
}

// UpdateOrderStatus applies a manual lifecycle change. Owners and admins may move an
// order through CONFIRMED -> ONGOING -> COMPLETED or cancel it; a renter may only cancel
// an order that is still PENDING. Leaving a calendar-holding status releases the hold.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	switch next {
	case domain.OrderOngoing, domain.OrderCompleted, domain.OrderCancelled:
	default:
		return nil, validationError(fmt.Sprintf("order status %q cannot be set manually", next), nil)
	}

	var updated *domain.Order
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrOrderNotFound) {
				return notFoundError("order not found", err)
			}
			return err
		}

		switch {
		case actor.IsAdmin(), order.OwnerID == actor.UserID:
		case order.RenterID == actor.UserID:
			if next != domain.OrderCancelled || order.Status != domain.OrderPending {
				return forbiddenError("renters can only cancel orders that are still pending")
			}
		default:
			return forbiddenError("you are not permitted to update this order")
		}

		if !order.Status.CanTransitionTo(next) {
			return conflictError(fmt.Sprintf("order cannot move from %s to %s", order.Status, next), nil)
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, next); err != nil {
			return err
		}
		if next == domain.OrderCancelled && order.Payment != nil && order.Payment.Status == domain.PaymentUnpaid {
			if err := tx.UpdatePaymentStatus(ctx, order.Payment.ID, domain.PaymentCancelled); err != nil {
				return err
			}
			order.Payment.Status = domain.PaymentCancelled
		}
		if order.Status.HoldsCalendar() && !next.HoldsCalendar() {
			if err := s.releaseHold(ctx, tx, order); err != nil {
				return err
			}
		}
		order.Status = next
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=booking_service msg=\"order status updated\" order_id=%s status=%s actor_id=%s", updated.ID, updated.Status, actor.UserID)
	return updated, nil
}

// ReinitiatePayment opens a fresh gateway session for a PENDING order that is still unpaid.
func (s *Service) ReinitiatePayment(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*PaymentSession, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, notFoundError("order not found", err)
		}
		return nil, err
	}
	if order.RenterID != actor.UserID {
		return nil, forbiddenError("only the renter can pay for this order")
	}
	if order.Payment == nil {
		return nil, notFoundError("payment not found for this order", store.ErrPaymentNotFound)
	}
	if order.Status != domain.OrderPending || order.Payment.Status != domain.PaymentUnpaid {
		return nil, conflictError(fmt.Sprintf("order is %s and payment is %s", order.Status, order.Payment.Status), nil)
	}

	renter, err := s.repo.FindUserByID(ctx, order.RenterID)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindItemByID(ctx, order.ItemID)
	if err != nil {
		return nil, err
	}
	session, err := s.initGatewaySession(ctx, renter, item, order.Payment)
	if err != nil {
		return nil, err
	}
	return &PaymentSession{PaymentURL: session.GatewayPageURL}, nil
}
