/**
 * @description
 * This package provides a client for the SSLCommerz hosted payment gateway.
 * It opens checkout sessions (form-encoded POST returning a GatewayPageURL) and
 * queries the order validation API for instant payment notifications.
 *
 * @dependencies
 * - context, encoding/json, net/http, net/url: Standard Go libraries.
 * - github.com/shopspring/decimal: Amounts are sent with two decimals.
 */
package sslcommerz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the SSLCommerz API.
type Client struct {
	StoreID       string
	StorePass     string
	PaymentAPI    string
	ValidationAPI string
	IPNURL        string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	HTTPClient    *http.Client
}

// Options configures a Client.
type Options struct {
	StoreID       string
	StorePass     string
	PaymentAPI    string
	ValidationAPI string
	IPNURL        string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	Timeout       time.Duration
}

// NewClient creates a new SSLCommerz API client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		StoreID:       opts.StoreID,
		StorePass:     opts.StorePass,
		PaymentAPI:    opts.PaymentAPI,
		ValidationAPI: opts.ValidationAPI,
		IPNURL:        opts.IPNURL,
		SuccessURL:    opts.SuccessURL,
		FailURL:       opts.FailURL,
		CancelURL:     opts.CancelURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// InitRequest is what a checkout session needs to know about the payer.
type InitRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CustomerAddr  string
	ProductName   string
}

// InitResponse is the gateway's answer to a session request.
type InitResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// ValidationResponse is the subset of the validation API payload the service reads.
type ValidationResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"tran_id"`
	ValidationID  string `json:"val_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	BankTranID    string `json:"bank_tran_id"`
	CardType      string `json:"card_type"`
	TranDate      string `json:"tran_date"`
}

// Succeeded reports whether the gateway considers the payment settled.
func (v *ValidationResponse) Succeeded() bool {
	return v.Status == "VALID" || v.Status == "VALIDATED"
}

// ErrorResponse represents a rejection reported by the gateway.
type ErrorResponse struct {
	StatusCode int
	Status     string
	Reason     string
}

func (e *ErrorResponse) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("sslcommerz api error: %s - %s", e.Status, e.Reason)
	}
	if e.Status != "" {
		return fmt.Sprintf("sslcommerz api error: %s", e.Status)
	}
	return fmt.Sprintf("unknown sslcommerz api error (status %d)", e.StatusCode)
}

// InitPayment opens a hosted checkout session and returns the page the payer is sent to.
func (c *Client) InitPayment(ctx context.Context, in InitRequest) (*InitResponse, error) {
	form := url.Values{}
	form.Set("store_id", c.StoreID)
	form.Set("store_passwd", c.StorePass)
	form.Set("total_amount", in.Amount.StringFixed(2))
	form.Set("currency", "BDT")
	form.Set("tran_id", in.TransactionID)
	form.Set("success_url", callbackURL(c.SuccessURL, in, "success"))
	form.Set("fail_url", callbackURL(c.FailURL, in, "fail"))
	form.Set("cancel_url", callbackURL(c.CancelURL, in, "cancel"))
	form.Set("ipn_url", c.IPNURL)
	form.Set("shipping_method", "NO")
	form.Set("product_name", orDefault(in.ProductName, "Rental Item"))
	form.Set("product_category", "Rental")
	form.Set("product_profile", "general")
	form.Set("cus_name", in.CustomerName)
	form.Set("cus_email", in.CustomerEmail)
	form.Set("cus_add1", in.CustomerAddr)
	form.Set("cus_phone", in.CustomerPhone)
	form.Set("cus_country", "Bangladesh")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PaymentAPI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	bodyBytes, status, err := c.do(req, "init_payment")
	if err != nil {
		return nil, err
	}

	var initResp InitResponse
	if err := json.Unmarshal(bodyBytes, &initResp); err != nil {
		return nil, fmt.Errorf("failed to decode payment init response (status %d): %w", status, err)
	}
	if status < 200 || status >= 300 || !strings.EqualFold(initResp.Status, "SUCCESS") || initResp.GatewayPageURL == "" {
		log.Printf("level=warn component=sslcommerz_client op=init_payment tran_id=%s status=%d gateway_status=%q reason=%q", in.TransactionID, status, initResp.Status, initResp.FailedReason)
		return nil, &ErrorResponse{StatusCode: status, Status: initResp.Status, Reason: initResp.FailedReason}
	}
	return &initResp, nil
}

// ValidatePayment asks the gateway to confirm a notification. The raw payload is
// returned alongside the decoded fields so callers can persist it verbatim.
func (c *Client) ValidatePayment(ctx context.Context, validationID string) (*ValidationResponse, json.RawMessage, error) {
	query := url.Values{}
	query.Set("val_id", validationID)
	query.Set("store_id", c.StoreID)
	query.Set("store_passwd", c.StorePass)
	query.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ValidationAPI+"?"+query.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create validation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	bodyBytes, status, err := c.do(req, "validate_payment")
	if err != nil {
		return nil, nil, err
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sslcommerz_client op=validate_payment val_id=%s status=%d msg=\"non-2xx response\"", validationID, status)
		return nil, nil, &ErrorResponse{StatusCode: status}
	}

	var validation ValidationResponse
	if err := json.Unmarshal(bodyBytes, &validation); err != nil {
		return nil, nil, fmt.Errorf("failed to decode validation response: %w", err)
	}
	return &validation, json.RawMessage(bodyBytes), nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	return bodyBytes, resp.StatusCode, nil
}

func callbackURL(base string, in InitRequest, status string) string {
	if base == "" {
		return ""
	}
	params := url.Values{}
	params.Set("transactionId", in.TransactionID)
	params.Set("amount", in.Amount.StringFixed(2))
	params.Set("status", status)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
