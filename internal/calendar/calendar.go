package calendar

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidRange = errors.New("end date must be the same as or after start date")

// Range is a closed interval of days. Both ends are booked.
type Range struct {
	Start Day `json:"startDate"`
	End   Day `json:"endDate"`
}

func NewRange(start, end Day) (Range, error) {
	if end < start {
		return Range{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Overlaps reports whether r and other share at least one day. Touching endpoints overlap.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End && r.End >= other.Start
}

// Days is the inclusive day count: a single-day range is 1.
func (r Range) Days() int {
	return int(r.End-r.Start) + 1
}

func (r Range) Covers(day Day) bool {
	return r.Start <= day && day <= r.End
}

// Equal compares calendar days only.
func (r Range) Equal(other Range) bool {
	return r.Start == other.Start && r.End == other.End
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start, r.End)
}

// Calendar is the ordered set of booked ranges of one item.
type Calendar []Range

// FindOverlap returns the first booked range that overlaps candidate.
func (c Calendar) FindOverlap(candidate Range) (Range, bool) {
	for _, existing := range c {
		if existing.Overlaps(candidate) {
			return existing, true
		}
	}
	return Range{}, false
}

func (c Calendar) HasOverlap(candidate Range) bool {
	_, found := c.FindOverlap(candidate)
	return found
}

// Append returns a new calendar with r inserted in start order. It does not check for
// overlap; callers run FindOverlap under the item lock first.
func (c Calendar) Append(r Range) Calendar {
	out := make(Calendar, 0, len(c)+1)
	out = append(out, c...)
	out = append(out, r)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start == out[j].Start {
			return out[i].End < out[j].End
		}
		return out[i].Start < out[j].Start
	})
	return out
}

// Remove drops the first range that is day-equal to r.
func (c Calendar) Remove(r Range) (Calendar, bool) {
	for i, existing := range c {
		if existing.Equal(r) {
			out := make(Calendar, 0, len(c)-1)
			out = append(out, c[:i]...)
			out = append(out, c[i+1:]...)
			return out, true
		}
	}
	return c, false
}

func (c Calendar) Covers(day Day) bool {
	for _, r := range c {
		if r.Covers(day) {
			return true
		}
	}
	return false
}

// PruneBefore drops ranges that ended strictly before day and reports how many went.
func (c Calendar) PruneBefore(day Day) (Calendar, int) {
	out := make(Calendar, 0, len(c))
	for _, r := range c {
		if r.End < day {
			continue
		}
		out = append(out, r)
	}
	return out, len(c) - len(out)
}
