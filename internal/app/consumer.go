package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/rentopia/booking-service/internal/domain"
)

// PaymentIPNConsumer validates gateway notifications relayed through the broker.
type PaymentIPNConsumer struct {
	service *Service
	timeout time.Duration
}

func NewPaymentIPNConsumer(service *Service) *PaymentIPNConsumer {
	return &PaymentIPNConsumer{service: service, timeout: 30 * time.Second}
}

// HandleMessage returns false only for failures worth retrying; malformed or
// unmatched notifications are acknowledged and dropped.
func (c *PaymentIPNConsumer) HandleMessage(body []byte) bool {
	var event domain.PaymentIPNEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=ipn_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}
	if strings.TrimSpace(event.ValidationID) == "" || strings.TrimSpace(event.TransactionID) == "" {
		log.Printf("level=warn component=ipn_consumer msg=\"missing val_id or tran_id; dropping\" tran_id=%q", event.TransactionID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := c.service.ValidatePayment(ctx, event.ValidationID, event.TransactionID)
	if err != nil {
		switch KindOf(err) {
		case KindValidation, KindNotFound, KindForbidden:
			log.Printf("level=warn component=ipn_consumer msg=\"notification rejected; dropping\" tran_id=%s err=%v", event.TransactionID, err)
			return true
		case KindReconciliation:
			// The order may have been expired by the sweep; nothing left to apply.
			log.Printf("level=warn component=ipn_consumer msg=\"notification does not match a live order; dropping\" tran_id=%s err=%v", event.TransactionID, err)
			return true
		}
		log.Printf("level=error component=ipn_consumer msg=\"validation failed; re-queuing\" tran_id=%s err=%v", event.TransactionID, err)
		return false
	}

	log.Printf("level=info component=ipn_consumer msg=\"notification processed\" tran_id=%s outcome=%s already_processed=%t", event.TransactionID, result.Outcome, result.AlreadyProcessed)
	return true
}
