package api

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rentopia/booking-service/internal/app"
	"github.com/rentopia/booking-service/internal/domain"
)

// InitPaymentHandler opens a new gateway session for an unpaid order.
func (h *BookingHandlers) InitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	session, err := h.service.ReinitiatePayment(r.Context(), actor, orderID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=init_payment outcome=failed order_id=%s err=%v", orderID, err)
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// GetInvoiceHandler returns the invoice reference of a settled payment. With
// ?format=raw the stored artifact itself is sent.
func (h *BookingHandlers) GetInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.GetInvoice(r.Context(), actor, paymentID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "raw" {
		writeJSON(w, http.StatusOK, view)
		return
	}
	w.Header().Set("Content-Type", view.Invoice.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"invoice-"+paymentID.String()+".txt\"")
	w.WriteHeader(http.StatusOK)
	w.Write(view.Invoice.Body)
}

// PaymentSuccessHandler is the gateway's success callback. The posted val_id is checked
// against the gateway validation API before anything is settled.
func (h *BookingHandlers) PaymentSuccessHandler(w http.ResponseWriter, r *http.Request) {
	h.handleGatewayCallback(w, r, app.OutcomeSuccess, func(ctx context.Context, transactionID string) (*app.ReconcileResult, error) {
		return h.service.ConfirmPaymentCallback(ctx, transactionID, r.PostForm.Get("val_id"), r.PostForm.Get("amount"))
	})
}

// PaymentFailHandler is the gateway's failure callback.
func (h *BookingHandlers) PaymentFailHandler(w http.ResponseWriter, r *http.Request) {
	h.handleGatewayCallback(w, r, app.OutcomeFail, h.reconcileOutcome(app.OutcomeFail))
}

// PaymentCancelHandler is the gateway's cancellation callback.
func (h *BookingHandlers) PaymentCancelHandler(w http.ResponseWriter, r *http.Request) {
	h.handleGatewayCallback(w, r, app.OutcomeCancel, h.reconcileOutcome(app.OutcomeCancel))
}

type callbackFunc func(ctx context.Context, transactionID string) (*app.ReconcileResult, error)

func (h *BookingHandlers) reconcileOutcome(outcome app.PaymentOutcome) callbackFunc {
	return func(ctx context.Context, transactionID string) (*app.ReconcileResult, error) {
		return h.service.ReconcilePaymentCallback(ctx, transactionID, outcome)
	}
}

func (h *BookingHandlers) handleGatewayCallback(w http.ResponseWriter, r *http.Request, outcome app.PaymentOutcome, apply callbackFunc) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	transactionID := callbackTransactionID(r)
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	result, err := apply(r.Context(), transactionID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_callback outcome=%s transaction_id=%s err=%v", outcome, transactionID, err)
		h.writeAppError(w, err)
		return
	}
	log.Printf("level=info component=api endpoint=payment_callback outcome=%s transaction_id=%s already_processed=%t payment_status=%s", outcome, transactionID, result.AlreadyProcessed, result.Payment.Status)

	redirectURL := h.redirectFor(result.Payment.Status)
	if redirectURL == "" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, withQuery(redirectURL, "transactionId", transactionID), http.StatusFound)
}

// redirectFor picks the frontend page from where the payment actually ended up, which
// differs from the callback route when the payment was already settled or closed.
func (h *BookingHandlers) redirectFor(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentPaid:
		return h.redirects.SuccessURL
	case domain.PaymentCancelled:
		return h.redirects.CancelURL
	}
	return h.redirects.FailURL
}

// ValidatePaymentHandler receives the gateway's instant payment notification.
func (h *BookingHandlers) ValidatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	event := domain.PaymentIPNEvent{
		ValidationID:  strings.TrimSpace(r.PostForm.Get("val_id")),
		TransactionID: strings.TrimSpace(r.PostForm.Get("tran_id")),
		Status:        strings.TrimSpace(r.PostForm.Get("status")),
		ReceivedAt:    time.Now().UTC(),
	}
	if event.ValidationID == "" || event.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "val_id and tran_id are required")
		return
	}

	if h.ipnPublisher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		err := h.ipnPublisher.Publish(ctx, h.exchange, domain.RoutingPaymentIPNReceived, event)
		if err == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
			return
		}
		log.Printf("level=warn component=api endpoint=validate_payment msg=\"ipn enqueue failed; validating inline\" transaction_id=%s err=%v", event.TransactionID, err)
	}

	result, err := h.service.ValidatePayment(r.Context(), event.ValidationID, event.TransactionID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func callbackTransactionID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("transactionId")); id != "" {
		return id
	}
	return strings.TrimSpace(r.PostForm.Get("tran_id"))
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
