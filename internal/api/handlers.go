/**
 * @description
 * This file contains the HTTP handlers for orders and items. Handlers parse and validate
 * the request, call the booking service, and write the JSON response. Service errors
 * are mapped to HTTP statuses in one place, writeAppError.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: request DTO validation.
 * - internal/app, internal/domain: service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/app"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/pkg/rabbitmq"
)

// PaymentRedirects are the frontend pages the gateway callbacks send the browser to.
type PaymentRedirects struct {
	SuccessURL string
	FailURL    string
	CancelURL  string
}

// HandlerOptions configures BookingHandlers.
type HandlerOptions struct {
	Redirects PaymentRedirects
	// When IPNPublisher is set, gateway notifications are queued on the broker and
	// validated by the consumer instead of inline.
	IPNPublisher rabbitmq.Publisher
	Exchange     string
}

// BookingHandlers holds the application service that handlers will use.
type BookingHandlers struct {
	service      *app.Service
	validate     *validatorv10.Validate
	redirects    PaymentRedirects
	ipnPublisher rabbitmq.Publisher
	exchange     string
}

// NewBookingHandlers creates a new instance of BookingHandlers.
func NewBookingHandlers(service *app.Service, opts HandlerOptions) *BookingHandlers {
	exchange := opts.Exchange
	if exchange == "" {
		exchange = "rentopia.events"
	}
	return &BookingHandlers{
		service:      service,
		validate:     validatorv10.New(),
		redirects:    opts.Redirects,
		ipnPublisher: opts.IPNPublisher,
		exchange:     exchange,
	}
}

type createOrderRequest struct {
	Item      string `json:"item" validate:"required,uuid"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ONGOING COMPLETED CANCELLED"`
}

type updateItemStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=AVAILABLE OCCUPIED UNDER_MAINTENANCE FLAGGED BLOCKED"`
}

type updateItemListingRequest struct {
	Available *bool `json:"available" validate:"required"`
}

// CreateOrderHandler books an item for a date range and returns the gateway page URL.
func (h *BookingHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !h.decodeAndValidate(w, r, &req, "create_order") {
		return
	}
	itemID := uuid.MustParse(req.Item)

	result, err := h.service.CreateOrder(r.Context(), actor.UserID, app.CreateOrderInput{
		ItemID:    itemID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_order outcome=failed renter_id=%s item_id=%s err=%v", actor.UserID, itemID, err)
		h.writeAppError(w, err)
		return
	}
	log.Printf("level=info component=api endpoint=create_order outcome=created renter_id=%s order_id=%s", actor.UserID, result.Order.ID)
	writeJSON(w, http.StatusCreated, result)
}

// ListOrdersHandler lists every order; administrators only.
func (h *BookingHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	filter, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.service.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// MyOrdersHandler lists the caller's own bookings.
func (h *BookingHandlers) MyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	filter, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.service.ListRenterOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CustomerOrdersHandler lists bookings placed on the caller's items.
func (h *BookingHandlers) CustomerOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	filter, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.service.ListOwnerOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler returns one order with its payment.
func (h *BookingHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler moves an order through its manual lifecycle.
func (h *BookingHandlers) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if !h.decodeAndValidate(w, r, &req, "update_order_status") {
		return
	}
	order, err := h.service.UpdateOrderStatus(r.Context(), actor, orderID, domain.OrderStatus(req.Status))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateItemStatusHandler applies an owner or admin status change to an item.
func (h *BookingHandlers) UpdateItemStatusHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateItemStatusRequest
	if !h.decodeAndValidate(w, r, &req, "update_item_status") {
		return
	}
	item, err := h.service.SetItemStatus(r.Context(), actor, itemID, domain.ItemStatus(req.Status))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateItemListingHandler lists or unlists an item.
func (h *BookingHandlers) UpdateItemListingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateItemListingRequest
	if !h.decodeAndValidate(w, r, &req, "update_item_listing") {
		return
	}
	item, err := h.service.SetItemListing(r.Context(), actor, itemID, *req.Available)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *BookingHandlers) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user from context")
		return domain.Actor{}, false
	}
	return actor, true
}

func (h *BookingHandlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, out interface{}, endpoint string) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=validation_failed err=%v", endpoint, err)
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation_failed",
			"fields": validationErrorsToMap(err),
		})
		return false
	}
	return true
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Error()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

func parseOrderFilter(r *http.Request) (domain.OrderFilter, error) {
	var filter domain.OrderFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToUpper(raw))
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("item")); raw != "" {
		itemID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid item filter")
		}
		filter.ItemID = &itemID
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("invalid %s", name)
		}
		*dst = v
	}
	return filter, nil
}

// writeAppError maps a service error onto an HTTP status.
func (h *BookingHandlers) writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch app.KindOf(err) {
	case app.KindValidation:
		status, message = http.StatusBadRequest, err.Error()
	case app.KindConflict:
		status, message = http.StatusConflict, err.Error()
	case app.KindNotFound:
		status, message = http.StatusNotFound, err.Error()
	case app.KindForbidden:
		status, message = http.StatusForbidden, err.Error()
	case app.KindRateLimited:
		if retryAfter := app.RetryAfter(err); retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		status, message = http.StatusTooManyRequests, err.Error()
	case app.KindUpstream:
		status, message = http.StatusBadGateway, "Payment gateway is unavailable, please try again"
	case app.KindReconciliation:
		status, message = http.StatusUnprocessableEntity, err.Error()
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
