/**
 * @description
 * Core domain models for the booking service: items with their booking calendars,
 * rental orders, and the payments that settle them.
 *
 * @notes
 * - Dates on orders and calendars are calendar days (calendar.Day), never instants.
 * - Money is decimal.Decimal so the earnings split is exact.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// User is the slice of a user profile the booking flow reads.
type User struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone,omitempty"`
	Address  string          `json:"address,omitempty"`
	Role     Role            `json:"role"`
	Earnings decimal.Decimal `json:"earnings"`
}

// HasCompleteProfile reports whether the user can book: phone and address are required.
func (u *User) HasCompleteProfile() bool {
	return u != nil && u.Phone != "" && u.Address != ""
}

type ItemStatus string

const (
	ItemAvailable        ItemStatus = "AVAILABLE"
	ItemOccupied         ItemStatus = "OCCUPIED"
	ItemUnderMaintenance ItemStatus = "UNDER_MAINTENANCE"
	ItemFlagged          ItemStatus = "FLAGGED"
	ItemBlocked          ItemStatus = "BLOCKED"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemOccupied, ItemUnderMaintenance, ItemFlagged, ItemBlocked:
		return true
	}
	return false
}

// IsHold reports whether s is an owner/admin hold that automatic transitions never clear.
func (s ItemStatus) IsHold() bool {
	return s == ItemUnderMaintenance || s == ItemFlagged || s == ItemBlocked
}

// Item is a rentable listing. Bookings is owned by the item; only the order flow and the
// reclamation jobs change it, always under the item's row lock.
type Item struct {
	ID          uuid.UUID         `json:"id"`
	OwnerID     uuid.UUID         `json:"owner"`
	Title       string            `json:"title"`
	PricePerDay decimal.Decimal   `json:"pricePerDay"`
	Status      ItemStatus        `json:"currentStatus"`
	Listed      bool              `json:"available"`
	Bookings    calendar.Calendar `json:"advanceBookings"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderOngoing   OrderStatus = "ONGOING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled, OrderFailed},
	OrderConfirmed: {OrderOngoing, OrderCancelled},
	OrderOngoing:   {OrderCompleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderOngoing, OrderCompleted, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// HoldsCalendar reports whether an order in s must have its range in the item calendar.
func (s OrderStatus) HoldsCalendar() bool {
	return s == OrderPending || s == OrderConfirmed || s == OrderOngoing
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a rental of one item for a day range.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	RenterID     uuid.UUID       `json:"renter"`
	OwnerID      uuid.UUID       `json:"owner"`
	ItemID       uuid.UUID       `json:"item"`
	StartDate    calendar.Day    `json:"startDate"`
	EndDate      calendar.Day    `json:"endDate"`
	Status       OrderStatus     `json:"status"`
	OwnerEarning decimal.Decimal `json:"ownerEarning"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	Payment      *Payment        `json:"payment,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (o *Order) Range() calendar.Range {
	return calendar.Range{Start: o.StartDate, End: o.EndDate}
}

// InvolvesUser reports whether userID is the renter or the owner of the order.
func (o *Order) InvolvesUser(userID uuid.UUID) bool {
	return o.RenterID == userID || o.OwnerID == userID
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "UNPAID"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentCancelled
}

// Payment is the 1:1 settlement record of an order. Amount never changes after insert.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order"`
	TransactionID string          `json:"transactionId"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	GatewayData   json.RawMessage `json:"paymentGatewayData,omitempty"`
	InvoiceURL    *string         `json:"invoiceUrl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Invoice is the persisted artifact issued when a payment succeeds.
type Invoice struct {
	PaymentID   uuid.UUID `json:"paymentId"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OrderFilter narrows ListOrders. Nil fields do not filter.
type OrderFilter struct {
	RenterID *uuid.UUID
	OwnerID  *uuid.UUID
	ItemID   *uuid.UUID
	Status   *OrderStatus
	Limit    int
	Offset   int
}
