package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
	"github.com/shopspring/decimal"
)

// PaymentOutcome is the result the gateway reports for a checkout session.
type PaymentOutcome string

const (
	OutcomeSuccess PaymentOutcome = "SUCCESS"
	OutcomeFail    PaymentOutcome = "FAIL"
	OutcomeCancel  PaymentOutcome = "CANCEL"
)

// ParsePaymentOutcome accepts the callback spellings used by the gateway routes.
func ParsePaymentOutcome(raw string) (PaymentOutcome, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS":
		return OutcomeSuccess, nil
	case "FAIL", "FAILED":
		return OutcomeFail, nil
	case "CANCEL", "CANCELLED", "CANCELED":
		return OutcomeCancel, nil
	}
	return "", validationError(fmt.Sprintf("unknown payment outcome %q", raw), nil)
}

// ReconcileResult describes what a callback did. AlreadyProcessed is set when the
// payment was terminal before the call; nothing was changed in that case.
type ReconcileResult struct {
	Outcome          PaymentOutcome  `json:"outcome"`
	AlreadyProcessed bool            `json:"alreadyProcessed"`
	Order            *domain.Order   `json:"order"`
	Payment          *domain.Payment `json:"payment"`
}

// ReconcilePaymentCallback applies a gateway outcome to the order/payment pair with the
// given transaction id. It is safe to call repeatedly.
func (s *Service) ReconcilePaymentCallback(ctx context.Context, transactionID string, outcome PaymentOutcome) (*ReconcileResult, error) {
	return s.reconcile(ctx, transactionID, outcome, nil)
}

// ValidatePayment handles an instant payment notification: the gateway validation API
// is asked about validationID, the raw answer is stored on the payment, and the
// validated outcome is reconciled.
func (s *Service) ValidatePayment(ctx context.Context, validationID, transactionID string) (*ReconcileResult, error) {
	validation, raw, err := s.validateWithGateway(ctx, validationID, transactionID)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeFail
	switch strings.ToUpper(validation.Status) {
	case "VALID", "VALIDATED":
		outcome = OutcomeSuccess
	case "CANCELLED":
		outcome = OutcomeCancel
	}
	return s.reconcile(ctx, transactionID, outcome, &gatewayVerdict{data: raw, amount: validation.Amount})
}

// ConfirmPaymentCallback settles the checkout behind a browser success redirect. The
// posted fields only name the session; the gateway validation API decides the outcome.
// A payment the gateway does not confirm is left untouched for the IPN or the sweep.
func (s *Service) ConfirmPaymentCallback(ctx context.Context, transactionID, validationID, postedAmount string) (*ReconcileResult, error) {
	validation, raw, err := s.validateWithGateway(ctx, validationID, transactionID)
	if err != nil {
		return nil, err
	}
	if !validation.Succeeded() {
		return nil, reconciliationError(fmt.Sprintf("gateway reports %q for transaction %s", validation.Status, transactionID), nil)
	}
	if posted := strings.TrimSpace(postedAmount); posted != "" {
		if err := sameAmount(posted, validation.Amount); err != nil {
			return nil, reconciliationError("posted amount does not match the validated amount", err)
		}
	}
	return s.reconcile(ctx, transactionID, OutcomeSuccess, &gatewayVerdict{data: raw, amount: validation.Amount})
}

func (s *Service) validateWithGateway(ctx context.Context, validationID, transactionID string) (*sslcommerz.ValidationResponse, json.RawMessage, error) {
	if strings.TrimSpace(validationID) == "" || strings.TrimSpace(transactionID) == "" {
		return nil, nil, validationError("val_id and tran_id are required", nil)
	}
	if s.gateway == nil {
		return nil, nil, newError(KindUpstream, "payment gateway is not configured", nil)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	validation, raw, err := s.gateway.ValidatePayment(gatewayCtx, validationID)
	if err != nil {
		log.Printf("level=warn component=booking_service msg=\"payment validation failed\" val_id=%s transaction_id=%s err=%v", validationID, transactionID, err)
		return nil, nil, err
	}
	if validation == nil {
		return nil, nil, newError(KindUpstream, "gateway returned no validation for "+validationID, nil)
	}
	// A confirmed payment must name this transaction; other verdicts may omit it.
	if validation.TransactionID != transactionID && (validation.TransactionID != "" || validation.Succeeded()) {
		return nil, nil, reconciliationError(fmt.Sprintf("validation belongs to transaction %q, not %s", validation.TransactionID, transactionID), nil)
	}
	return validation, raw, nil
}

// gatewayVerdict is what the validation API said about a payment.
type gatewayVerdict struct {
	data   json.RawMessage
	amount string
}

func sameAmount(got, want string) error {
	a, err := decimal.NewFromString(strings.TrimSpace(got))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", got, err)
	}
	b, err := decimal.NewFromString(strings.TrimSpace(want))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", want, err)
	}
	if !a.Equal(b) {
		return fmt.Errorf("amount %s differs from %s", a, b)
	}
	return nil
}

func (s *Service) reconcile(ctx context.Context, transactionID string, outcome PaymentOutcome, verdict *gatewayVerdict) (*ReconcileResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, validationError("transaction id is required", nil)
	}
	switch outcome {
	case OutcomeSuccess, OutcomeFail, OutcomeCancel:
	default:
		return nil, validationError(fmt.Sprintf("unknown payment outcome %q", outcome), nil)
	}

	// Resolve the order first so the order row can be locked before the payment row.
	known, err := s.repo.FindPaymentByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, reconciliationError("no payment for transaction "+transactionID, err)
		}
		return nil, err
	}

	result := &ReconcileResult{Outcome: outcome}
	var events []outboundEvent
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		events = nil
		order, err := tx.LockOrder(ctx, known.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrOrderNotFound) {
				return reconciliationError("payment "+transactionID+" has no order", err)
			}
			return err
		}
		payment, err := tx.LockPaymentByTransactionID(ctx, transactionID)
		if err != nil {
			if errors.Is(err, store.ErrPaymentNotFound) {
				return reconciliationError("payment "+transactionID+" disappeared", err)
			}
			return err
		}
		if payment.OrderID != order.ID {
			return reconciliationError("payment "+transactionID+" is not paired with order "+order.ID.String(), nil)
		}

		result.Order = order
		result.Payment = payment
		order.Payment = payment
		if payment.Status.IsTerminal() {
			result.AlreadyProcessed = true
			return nil
		}

		if verdict != nil {
			if outcome == OutcomeSuccess {
				if err := sameAmount(verdict.amount, payment.Amount.String()); err != nil {
					return reconciliationError("validated amount does not match payment "+transactionID, err)
				}
			}
			if len(verdict.data) > 0 {
				if err := tx.UpdatePaymentGatewayData(ctx, payment.ID, verdict.data); err != nil {
					return err
				}
				payment.GatewayData = verdict.data
			}
		}

		switch outcome {
		case OutcomeSuccess:
			settled, err := s.settle(ctx, tx, order, payment)
			if err != nil {
				return err
			}
			events = settled
		case OutcomeFail:
			if err := s.closeUnpaid(ctx, tx, order, payment, domain.PaymentFailed, domain.OrderFailed); err != nil {
				return err
			}
			events = []outboundEvent{{domain.RoutingPaymentFailed, s.outcomeEvent(order, payment)}}
		case OutcomeCancel:
			if err := s.closeUnpaid(ctx, tx, order, payment, domain.PaymentCancelled, domain.OrderCancelled); err != nil {
				return err
			}
			events = []outboundEvent{{domain.RoutingPaymentCancelled, s.outcomeEvent(order, payment)}}
		}
		return nil
	})
	if err != nil {
		log.Printf("level=warn component=booking_service msg=\"payment reconciliation aborted\" transaction_id=%s outcome=%s err=%v", transactionID, outcome, err)
		return nil, err
	}

	if result.AlreadyProcessed {
		log.Printf("level=info component=booking_service msg=\"payment already processed\" transaction_id=%s status=%s outcome=%s", transactionID, result.Payment.Status, outcome)
		return result, nil
	}
	log.Printf("level=info component=booking_service msg=\"payment reconciled\" transaction_id=%s order_id=%s payment_status=%s order_status=%s", transactionID, result.Order.ID, result.Payment.Status, result.Order.Status)
	s.publish(events...)
	return result, nil
}

// settle confirms a paid order: payment PAID, order CONFIRMED with the earnings split,
// owner credited, invoice persisted. All of it commits or none of it does.
func (s *Service) settle(ctx context.Context, tx store.Tx, order *domain.Order, payment *domain.Payment) ([]outboundEvent, error) {
	ownerEarning, platformFee := s.split(payment.Amount)

	if err := tx.UpdatePaymentStatus(ctx, payment.ID, domain.PaymentPaid); err != nil {
		return nil, err
	}
	if err := tx.SettleOrder(ctx, order.ID, domain.OrderConfirmed, ownerEarning, platformFee); err != nil {
		return nil, err
	}
	if err := tx.IncrementOwnerEarnings(ctx, order.OwnerID, ownerEarning); err != nil {
		return nil, reconciliationError("failed to credit owner earnings", err)
	}
	payment.Status = domain.PaymentPaid
	order.Status = domain.OrderConfirmed
	order.OwnerEarning = ownerEarning
	order.PlatformFee = platformFee

	data, err := s.invoiceData(ctx, tx, order, payment)
	if err != nil {
		return nil, reconciliationError("failed to collect invoice data", err)
	}
	body, err := s.invoices.Render(data)
	if err != nil {
		return nil, reconciliationError("failed to render invoice", err)
	}
	url := s.invoiceURL(payment.ID)
	invoice := &domain.Invoice{
		PaymentID:   payment.ID,
		ContentType: InvoiceContentType,
		Body:        body,
		CreatedAt:   s.now().UTC(),
	}
	if err := tx.SaveInvoice(ctx, invoice, url); err != nil {
		return nil, reconciliationError("failed to store invoice", err)
	}
	payment.InvoiceURL = &url

	return []outboundEvent{
		{domain.RoutingPaymentConfirmed, s.outcomeEvent(order, payment)},
		{domain.RoutingInvoiceIssued, domain.InvoiceIssuedEvent{
			PaymentID:  payment.ID,
			InvoiceURL: url,
			Invoice:    data,
			OccurredAt: invoice.CreatedAt,
		}},
	}, nil
}

// closeUnpaid records a failed or cancelled checkout and frees the calendar hold in the
// same transaction, so the dates become bookable again without waiting for expiry.
func (s *Service) closeUnpaid(ctx context.Context, tx store.Tx, order *domain.Order, payment *domain.Payment, paymentStatus domain.PaymentStatus, orderStatus domain.OrderStatus) error {
	if err := tx.UpdatePaymentStatus(ctx, payment.ID, paymentStatus); err != nil {
		return err
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, orderStatus); err != nil {
		return err
	}
	if order.Status.HoldsCalendar() {
		if err := s.releaseHold(ctx, tx, order); err != nil {
			return err
		}
	}
	payment.Status = paymentStatus
	order.Status = orderStatus
	return nil
}

func (s *Service) outcomeEvent(order *domain.Order, payment *domain.Payment) domain.PaymentOutcomeEvent {
	return domain.PaymentOutcomeEvent{
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Status:        payment.Status,
		Amount:        payment.Amount,
		OwnerEarning:  order.OwnerEarning,
		PlatformFee:   order.PlatformFee,
		OccurredAt:    s.now().UTC(),
	}
}
