package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
	"github.com/shopspring/decimal"
)

func TestReconcileSuccess_SplitsEarningsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-01", "2024-03-03")
	txn := order.Payment.TransactionID

	result, err := f.service.ReconcilePaymentCallback(context.Background(), txn, OutcomeSuccess)
	if err != nil {
		t.Fatalf("ReconcilePaymentCallback returned error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatalf("first callback must not be reported as already processed")
	}

	stored := f.storedOrder(t, order.ID)
	if stored.Status != domain.OrderConfirmed || stored.Payment.Status != domain.PaymentPaid {
		t.Fatalf("expected CONFIRMED/PAID, got %s/%s", stored.Status, stored.Payment.Status)
	}
	if !stored.OwnerEarning.Equal(decimal.NewFromInt(270)) || !stored.PlatformFee.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 270/30 split, got %s/%s", stored.OwnerEarning, stored.PlatformFee)
	}
	if !stored.OwnerEarning.Add(stored.PlatformFee).Equal(stored.Payment.Amount) {
		t.Fatalf("split must add up to the amount")
	}
	wantURL := "https://api.example/payments/" + stored.Payment.ID.String() + "/invoice"
	if stored.Payment.InvoiceURL == nil || *stored.Payment.InvoiceURL != wantURL {
		t.Fatalf("expected invoice URL %q, got %v", wantURL, stored.Payment.InvoiceURL)
	}

	for i := 0; i < 3; i++ {
		again, err := f.service.ReconcilePaymentCallback(context.Background(), txn, OutcomeSuccess)
		if err != nil {
			t.Fatalf("repeat callback returned error: %v", err)
		}
		if !again.AlreadyProcessed {
			t.Fatalf("repeat callback must be a no-op")
		}
	}

	owner, err := f.repo.FindUserByID(context.Background(), f.owner.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if !owner.Earnings.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("owner must be credited once, got %s", owner.Earnings)
	}
	if f.publisher.count(domain.RoutingPaymentConfirmed) != 1 || f.publisher.count(domain.RoutingInvoiceIssued) != 1 {
		t.Fatalf("settlement events must be published once, got %v", f.publisher.routed)
	}
	// The hold stays: a confirmed order still owns its dates.
	if item := f.storedItem(t, f.item.ID); item.Status != domain.ItemOccupied || len(item.Bookings) != 1 {
		t.Fatalf("confirmed order keeps the hold, got status=%s bookings=%v", item.Status, item.Bookings)
	}
}

func TestReconcileSuccess_RoundsOwnerShareToCents(t *testing.T) {
	f := newFixture(t)
	item := domain.Item{ID: uuid.New(), OwnerID: f.owner.ID, Title: "Tripod", PricePerDay: decimal.RequireFromString("33.33"), Status: domain.ItemAvailable, Listed: true}
	f.repo.PutItem(item)

	order := f.book(t, f.renter, item.ID, "2024-03-10", "2024-03-10")
	if _, err := f.service.ReconcilePaymentCallback(context.Background(), order.Payment.TransactionID, OutcomeSuccess); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	stored := f.storedOrder(t, order.ID)
	if !stored.OwnerEarning.Equal(decimal.RequireFromString("30.00")) || !stored.PlatformFee.Equal(decimal.RequireFromString("3.33")) {
		t.Fatalf("expected 30/3.33, got %s/%s", stored.OwnerEarning, stored.PlatformFee)
	}
}

func TestReconcileFailure_ReleasesHoldImmediately(t *testing.T) {
	cases := []struct {
		outcome     PaymentOutcome
		wantPayment domain.PaymentStatus
		wantOrder   domain.OrderStatus
		wantEvent   string
	}{
		{OutcomeFail, domain.PaymentFailed, domain.OrderFailed, domain.RoutingPaymentFailed},
		{OutcomeCancel, domain.PaymentCancelled, domain.OrderCancelled, domain.RoutingPaymentCancelled},
	}

	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			f := newFixture(t)
			order := f.book(t, f.renter, f.item.ID, "2024-03-01", "2024-03-03")

			result, err := f.service.ReconcilePaymentCallback(context.Background(), order.Payment.TransactionID, tc.outcome)
			if err != nil {
				t.Fatalf("ReconcilePaymentCallback returned error: %v", err)
			}
			if result.Payment.Status != tc.wantPayment || result.Order.Status != tc.wantOrder {
				t.Fatalf("expected %s/%s, got %s/%s", tc.wantOrder, tc.wantPayment, result.Order.Status, result.Payment.Status)
			}

			stored := f.storedOrder(t, order.ID)
			if stored.Status != tc.wantOrder || stored.Payment.Status != tc.wantPayment {
				t.Fatalf("outcome not persisted: %s/%s", stored.Status, stored.Payment.Status)
			}
			item := f.storedItem(t, f.item.ID)
			if item.Status != domain.ItemAvailable || len(item.Bookings) != 0 {
				t.Fatalf("hold must be released, got status=%s bookings=%v", item.Status, item.Bookings)
			}
			if f.publisher.count(tc.wantEvent) != 1 {
				t.Fatalf("expected one %s event, got %v", tc.wantEvent, f.publisher.routed)
			}

			// The dates are immediately bookable by someone else.
			other := f.addUser("Next", domain.RoleUser)
			f.book(t, other, f.item.ID, "2024-03-02", "2024-03-02")

			// A late success for the closed checkout is ignored.
			late, err := f.service.ReconcilePaymentCallback(context.Background(), order.Payment.TransactionID, OutcomeSuccess)
			if err != nil || !late.AlreadyProcessed {
				t.Fatalf("expected already processed, got %+v (err=%v)", late, err)
			}
			owner, _ := f.repo.FindUserByID(context.Background(), f.owner.ID)
			if !owner.Earnings.IsZero() {
				t.Fatalf("no earnings for an unpaid order, got %s", owner.Earnings)
			}
		})
	}
}

func TestReconcile_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ReconcilePaymentCallback(context.Background(), "tran_missing", OutcomeSuccess)
	if KindOf(err) != KindReconciliation {
		t.Fatalf("expected reconciliation error, got %v", err)
	}
	if _, err := f.service.ReconcilePaymentCallback(context.Background(), "  ", OutcomeSuccess); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestReconcileSuccess_RollsBackWhenOwnerCannotBeCredited(t *testing.T) {
	f := newFixture(t)
	orphan := f.addItem(uuid.New(), domain.ItemAvailable)
	order := f.book(t, f.renter, orphan.ID, "2024-03-10", "2024-03-11")

	_, err := f.service.ReconcilePaymentCallback(context.Background(), order.Payment.TransactionID, OutcomeSuccess)
	if KindOf(err) != KindReconciliation {
		t.Fatalf("expected reconciliation error, got %v", err)
	}

	stored := f.storedOrder(t, order.ID)
	if stored.Status != domain.OrderPending || stored.Payment.Status != domain.PaymentUnpaid {
		t.Fatalf("failed settlement must roll back, got %s/%s", stored.Status, stored.Payment.Status)
	}
	if stored.Payment.InvoiceURL != nil {
		t.Fatalf("no invoice may survive a rolled back settlement")
	}
	if f.publisher.count(domain.RoutingPaymentConfirmed) != 0 {
		t.Fatalf("no event may be published for a rolled back settlement")
	}
}

func TestValidatePayment_UsesGatewayVerdict(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-06")
	txn := order.Payment.TransactionID
	raw := json.RawMessage(`{"status":"VALID","tran_id":"` + txn + `","val_id":"val-1","amount":"200.00"}`)
	f.gateway.validation = &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: txn, ValidationID: "val-1", Amount: "200.00"}
	f.gateway.validationRaw = raw

	result, err := f.service.ValidatePayment(context.Background(), "val-1", txn)
	if err != nil {
		t.Fatalf("ValidatePayment returned error: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS, got %s", result.Outcome)
	}
	stored := f.storedOrder(t, order.ID)
	if stored.Payment.Status != domain.PaymentPaid {
		t.Fatalf("expected PAID, got %s", stored.Payment.Status)
	}
	if !strings.Contains(string(stored.Payment.GatewayData), "val-1") {
		t.Fatalf("gateway answer must be stored, got %s", stored.Payment.GatewayData)
	}
}

func TestValidatePayment_Rejections(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-06")
	txn := order.Payment.TransactionID

	f.gateway.validation = &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: "tran_other"}
	if _, err := f.service.ValidatePayment(context.Background(), "val-1", txn); KindOf(err) != KindReconciliation {
		t.Fatalf("mismatched transaction must be a reconciliation error, got %v", err)
	}

	gatewayErr := &sslcommerz.ErrorResponse{StatusCode: 502, Reason: "bad gateway"}
	f.gateway.validateErr = gatewayErr
	_, err := f.service.ValidatePayment(context.Background(), "val-1", txn)
	var target *sslcommerz.ErrorResponse
	if !errors.As(err, &target) || KindOf(err) != KindUpstream {
		t.Fatalf("expected upstream gateway error, got %v", err)
	}

	if _, err := f.service.ValidatePayment(context.Background(), "", txn); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stored := f.storedOrder(t, order.ID); stored.Payment.Status != domain.PaymentUnpaid {
		t.Fatalf("rejected validations must not touch the payment, got %s", stored.Payment.Status)
	}
}

func TestValidatePayment_InvalidVerdictFailsOrder(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-01", "2024-03-01")
	f.gateway.validation = &sslcommerz.ValidationResponse{Status: "INVALID_TRANSACTION", TransactionID: order.Payment.TransactionID}

	result, err := f.service.ValidatePayment(context.Background(), "val-9", order.Payment.TransactionID)
	if err != nil {
		t.Fatalf("ValidatePayment returned error: %v", err)
	}
	if result.Outcome != OutcomeFail || result.Order.Status != domain.OrderFailed {
		t.Fatalf("expected FAIL/FAILED, got %s/%s", result.Outcome, result.Order.Status)
	}
}

func TestParsePaymentOutcome(t *testing.T) {
	cases := map[string]PaymentOutcome{
		"success":   OutcomeSuccess,
		"FAIL":      OutcomeFail,
		"failed":    OutcomeFail,
		"cancel":    OutcomeCancel,
		"CANCELLED": OutcomeCancel,
	}
	for raw, want := range cases {
		got, err := ParsePaymentOutcome(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePaymentOutcome(%q) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParsePaymentOutcome("refund"); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidatePayment_RepeatOnSettledPaymentChangesNothing(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-05")
	txn := order.Payment.TransactionID
	f.gateway.validation = &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: txn, Amount: "100"}
	f.gateway.validationRaw = json.RawMessage(`{"val_id":"val-first"}`)

	if _, err := f.service.ValidatePayment(context.Background(), "val-first", txn); err != nil {
		t.Fatalf("first validation: %v", err)
	}

	f.gateway.validationRaw = json.RawMessage(`{"val_id":"val-second"}`)
	again, err := f.service.ValidatePayment(context.Background(), "val-second", txn)
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("expected already processed, got %+v (err=%v)", again, err)
	}
	stored := f.storedOrder(t, order.ID)
	if !strings.Contains(string(stored.Payment.GatewayData), "val-first") {
		t.Fatalf("settled payment must keep its gateway data, got %s", stored.Payment.GatewayData)
	}
}

func TestValidatePayment_AmountMustMatchPayment(t *testing.T) {
	f := newFixture(t)
	order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-06")
	txn := order.Payment.TransactionID

	for _, amount := range []string{"", "1.00", "not-a-number"} {
		f.gateway.validation = &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: txn, Amount: amount}
		if _, err := f.service.ValidatePayment(context.Background(), "val-1", txn); KindOf(err) != KindReconciliation {
			t.Fatalf("amount %q: expected reconciliation error, got %v", amount, err)
		}
	}
	stored := f.storedOrder(t, order.ID)
	if stored.Payment.Status != domain.PaymentUnpaid || len(stored.Payment.GatewayData) != 0 {
		t.Fatalf("rejected validation must not touch the payment, got %s %s", stored.Payment.Status, stored.Payment.GatewayData)
	}
}

func TestConfirmPaymentCallback(t *testing.T) {
	cases := []struct {
		name         string
		validationID string
		posted       string
		validation   *sslcommerz.ValidationResponse
		ownTxn       bool
		wantKind     Kind
	}{
		{"no validation id", "", "", nil, false, KindValidation},
		{"gateway does not confirm", "val-x", "", &sslcommerz.ValidationResponse{Status: "INVALID_TRANSACTION"}, true, KindReconciliation},
		{"validation for another checkout", "val-x", "", &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: "tran_other", Amount: "200"}, false, KindReconciliation},
		{"confirmed without transaction", "val-x", "", &sslcommerz.ValidationResponse{Status: "VALID", Amount: "200"}, false, KindReconciliation},
		{"posted amount differs", "val-x", "1.00", &sslcommerz.ValidationResponse{Status: "VALID", Amount: "200"}, true, KindReconciliation},
		{"validated amount differs", "val-x", "", &sslcommerz.ValidationResponse{Status: "VALID", Amount: "20"}, true, KindReconciliation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-06")
			txn := order.Payment.TransactionID
			if tc.validation != nil {
				v := *tc.validation
				if tc.ownTxn {
					v.TransactionID = txn
				}
				f.gateway.validation = &v
			}

			_, err := f.service.ConfirmPaymentCallback(context.Background(), txn, tc.validationID, tc.posted)
			if KindOf(err) != tc.wantKind {
				t.Fatalf("expected %s, got %v", tc.wantKind, err)
			}
			stored := f.storedOrder(t, order.ID)
			if stored.Status != domain.OrderPending || stored.Payment.Status != domain.PaymentUnpaid {
				t.Fatalf("unconfirmed callback must not change the order, got %s/%s", stored.Status, stored.Payment.Status)
			}
			owner, _ := f.repo.FindUserByID(context.Background(), f.owner.ID)
			if !owner.Earnings.IsZero() {
				t.Fatalf("owner must not be credited, got %s", owner.Earnings)
			}
		})
	}

	t.Run("validated payment settles", func(t *testing.T) {
		f := newFixture(t)
		order := f.book(t, f.renter, f.item.ID, "2024-03-05", "2024-03-06")
		txn := order.Payment.TransactionID
		f.gateway.validation = &sslcommerz.ValidationResponse{Status: "VALID", TransactionID: txn, Amount: "200.00"}

		result, err := f.service.ConfirmPaymentCallback(context.Background(), txn, "val-ok", "200")
		if err != nil {
			t.Fatalf("ConfirmPaymentCallback returned error: %v", err)
		}
		if result.Payment.Status != domain.PaymentPaid || result.Order.Status != domain.OrderConfirmed {
			t.Fatalf("expected PAID/CONFIRMED, got %s/%s", result.Payment.Status, result.Order.Status)
		}
	})
}
