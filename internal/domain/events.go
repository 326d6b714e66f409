package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/shopspring/decimal"
)

// Routing keys on the events exchange.
const (
	RoutingOrderCreated       = "order.created"
	RoutingOrderExpired       = "order.expired"
	RoutingPaymentConfirmed   = "payment.confirmed"
	RoutingPaymentFailed      = "payment.failed"
	RoutingPaymentCancelled   = "payment.cancelled"
	RoutingInvoiceIssued      = "invoice.issued"
	RoutingPaymentIPNReceived = "payment.ipn.received"
)

type OrderCreatedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	ItemID        uuid.UUID       `json:"item_id"`
	RenterID      uuid.UUID       `json:"renter_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	StartDate     calendar.Day    `json:"start_date"`
	EndDate       calendar.Day    `json:"end_date"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type OrderExpiredEvent struct {
	OrderID    uuid.UUID    `json:"order_id"`
	ItemID     uuid.UUID    `json:"item_id"`
	RenterID   uuid.UUID    `json:"renter_id"`
	StartDate  calendar.Day `json:"start_date"`
	EndDate    calendar.Day `json:"end_date"`
	OccurredAt time.Time    `json:"occurred_at"`
}

type PaymentOutcomeEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	OwnerEarning  decimal.Decimal `json:"owner_earning"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// InvoiceData is what the invoice renderer and the delivery collaborator consume.
type InvoiceData struct {
	TransactionID string          `json:"transaction_id"`
	OrderDate     time.Time       `json:"order_date"`
	RenterName    string          `json:"renter_name"`
	RenterEmail   string          `json:"renter_email"`
	OwnerName     string          `json:"owner_name"`
	ItemTitle     string          `json:"item_title"`
	StartDate     calendar.Day    `json:"start_date"`
	EndDate       calendar.Day    `json:"end_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

type InvoiceIssuedEvent struct {
	PaymentID  uuid.UUID   `json:"payment_id"`
	InvoiceURL string      `json:"invoice_url"`
	Invoice    InvoiceData `json:"invoice"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// PaymentIPNEvent is the gateway's instant payment notification, relayed through the
// broker so validation against the gateway happens off the request path.
type PaymentIPNEvent struct {
	ValidationID  string    `json:"val_id"`
	TransactionID string    `json:"tran_id"`
	Status        string    `json:"status"`
	ReceivedAt    time.Time `json:"received_at"`
}
