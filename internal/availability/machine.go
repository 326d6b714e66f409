/**
 * @description
 * The item availability state machine. Every change to an item's status or listed flag
 * goes through one of the transition functions below, whether it comes from the order
 * flow, the reclamation jobs, or an owner/admin request.
 *
 * @notes
 * - Automatic transitions only move between AVAILABLE and OCCUPIED. Holds
 *   (UNDER_MAINTENANCE, FLAGGED, BLOCKED) are left alone and are only cleared by SetStatus.
 * - Functions mutate the item in place and report whether anything changed, so callers
 *   can skip writes.
 */

package availability

import (
	"errors"
	"fmt"

	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
)

var (
	ErrNotAvailableToday = errors.New("item is not available for the requested dates")
	ErrAdminOnly         = errors.New("only an administrator can set or clear this status")
	ErrManualOccupied    = errors.New("OCCUPIED is derived from bookings and cannot be set manually")
	ErrInvalidStatus     = errors.New("invalid item status")
	ErrCannotList        = errors.New("item cannot be listed while on hold")
)

// CheckBookable rejects a range that covers today while the item is not AVAILABLE.
// Future ranges are allowed in any status; calendar overlap is checked separately.
func CheckBookable(item *domain.Item, r calendar.Range, today calendar.Day) error {
	if r.Covers(today) && item.Status != domain.ItemAvailable {
		return fmt.Errorf("%w: item is currently %s", ErrNotAvailableToday, item.Status)
	}
	return nil
}

// OnBookingCreated marks the item OCCUPIED when a new booking covers today.
func OnBookingCreated(item *domain.Item, r calendar.Range, today calendar.Day) bool {
	if r.Covers(today) && item.Status == domain.ItemAvailable {
		item.Status = domain.ItemOccupied
		return true
	}
	return false
}

// OnHoldReleased frees the item once the released range was the one covering today.
// The released range must already be removed from item.Bookings.
func OnHoldReleased(item *domain.Item, released calendar.Range, today calendar.Day) bool {
	if !released.Covers(today) || item.Status != domain.ItemOccupied {
		return false
	}
	if item.Bookings.Covers(today) {
		return false
	}
	item.Status = domain.ItemAvailable
	return true
}

// Rederive aligns the automatic status with today's calendar coverage.
func Rederive(item *domain.Item, today calendar.Day) bool {
	covered := item.Bookings.Covers(today)
	switch {
	case covered && item.Status == domain.ItemAvailable:
		item.Status = domain.ItemOccupied
		return true
	case !covered && item.Status == domain.ItemOccupied:
		item.Status = domain.ItemAvailable
		return true
	}
	return false
}

// SetStatus applies an explicit owner or admin status change.
func SetStatus(item *domain.Item, next domain.ItemStatus, actor domain.Actor) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if next == domain.ItemOccupied {
		return false, ErrManualOccupied
	}
	adminOnly := func(s domain.ItemStatus) bool {
		return s == domain.ItemFlagged || s == domain.ItemBlocked
	}
	if (adminOnly(item.Status) || adminOnly(next)) && !actor.IsAdmin() {
		return false, ErrAdminOnly
	}
	if item.Status == next {
		return false, nil
	}

	item.Status = next
	if next.IsHold() {
		item.Listed = false
	}
	return true, nil
}

// SetListed toggles whether the item is offered for rent.
func SetListed(item *domain.Item, listed bool) (bool, error) {
	if listed && item.Status.IsHold() {
		return false, fmt.Errorf("%w: item is currently %s", ErrCannotList, item.Status)
	}
	if item.Listed == listed {
		return false, nil
	}
	item.Listed = listed
	return true, nil
}
