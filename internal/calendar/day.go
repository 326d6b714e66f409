/**
 * @description
 * Calendar-day primitives for booking ranges. Instants coming in from requests or the
 * database are normalized to a Day exactly once, at the boundary; everything below that
 * boundary compares and counts plain days.
 *
 * @dependencies
 * - time, encoding/json: Standard Go libraries.
 */

package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

var ErrInvalidDay = errors.New("invalid calendar day")

// Day is a calendar day with no time-of-day and no zone, counted from 1970-01-01.
type Day int32

// DayOf returns the calendar day that t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDay(y, m, d)
}

// NewDay builds a Day from its civil components. Out-of-range components are
// normalized the same way time.Date does.
func NewDay(year int, month time.Month, day int) Day {
	return Day(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// ParseDay accepts YYYY-MM-DD or an RFC 3339 timestamp. Timestamps are placed on the
// day they fall on in loc.
func ParseDay(raw string, loc *time.Location) (Day, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDay)
	}
	if t, err := time.Parse(dayLayout, value); err == nil {
		return NewDay(t.Date()), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDay, raw)
	}
	return DayOf(t, loc), nil
}

// Date returns the civil components of d.
func (d Day) Date() (int, time.Month, int) {
	return d.Time().Date()
}

// Time returns midnight UTC of d. Used for DATE columns.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// StartOf returns the first instant of d in loc.
func (d Day) StartOf(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, dd := d.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// EndOf returns the last instant of d in loc.
func (d Day) EndOf(loc *time.Location) time.Time {
	return (d + 1).StartOf(loc).Add(-time.Nanosecond)
}

func (d Day) AddDays(n int) Day {
	return d + Day(n)
}

func (d Day) Before(other Day) bool { return d < other }
func (d Day) After(other Day) bool  { return d > other }

func (d Day) String() string {
	return d.Time().Format(dayLayout)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDay, err)
	}
	parsed, err := ParseDay(raw, time.UTC)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
