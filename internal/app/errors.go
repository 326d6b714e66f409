package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rentopia/booking-service/internal/availability"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/sslcommerz"
)

// Kind is the machine-checkable category of a failed operation.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindRateLimited    Kind = "rate_limited"
	KindUpstream       Kind = "upstream"
	KindReconciliation Kind = "reconciliation"
	KindInternal       Kind = "internal"
)

// Error is returned by Service operations for failures the service itself detects.
// Gateway and timeout errors are returned as they came and classified by KindOf.
type Error struct {
	Kind              Kind
	Message           string
	Err               error
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(message string, err error) *Error {
	return newError(KindValidation, message, err)
}

func conflictError(message string, err error) *Error {
	return newError(KindConflict, message, err)
}

func forbiddenError(message string) *Error {
	return newError(KindForbidden, message, nil)
}

func notFoundError(message string, err error) *Error {
	return newError(KindNotFound, message, err)
}

func reconciliationError(message string, err error) *Error {
	return newError(KindReconciliation, message, err)
}

// KindOf classifies any error returned by the service.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	var gatewayErr *sslcommerz.ErrorResponse
	var netErr net.Error
	switch {
	case errors.As(err, &gatewayErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindUpstream
	case errors.Is(err, store.ErrItemNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrInvoiceNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrDuplicateTransactionID),
		errors.Is(err, availability.ErrNotAvailableToday):
		return KindConflict
	case errors.Is(err, availability.ErrAdminOnly):
		return KindForbidden
	case errors.Is(err, availability.ErrManualOccupied),
		errors.Is(err, availability.ErrInvalidStatus),
		errors.Is(err, availability.ErrCannotList),
		errors.Is(err, calendar.ErrInvalidDay),
		errors.Is(err, calendar.ErrInvalidRange):
		return KindValidation
	}
	return KindInternal
}

// RetryAfter returns the suggested wait for a rate-limited error, or 0.
func RetryAfter(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.RetryAfterSeconds
	}
	return 0
}
