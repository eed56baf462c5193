package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for check-in and check-out dates.
const DateLayout = "2006-01-02"

// Interval is a half-open range of calendar days [CheckIn, CheckOut).
type Interval struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewInterval truncates both ends to UTC calendar days.
func NewInterval(checkIn, checkOut time.Time) Interval {
	return Interval{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
}

// ParseInterval builds an interval from two DateLayout strings.
func ParseInterval(checkIn, checkOut string) (Interval, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return Interval{}, NewValidationError("check_in", fmt.Sprintf("must be a date in %s format", DateLayout))
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return Interval{}, NewValidationError("check_out", fmt.Sprintf("must be a date in %s format", DateLayout))
	}
	return NewInterval(in, out), nil
}

// Day drops the clock part of t and moves it to UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (i Interval) Valid() bool {
	return i.CheckIn.Before(i.CheckOut)
}

// Overlaps reports whether the two ranges share at least one night.
// Back-to-back ranges, where one ends on the day the other starts, do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.CheckIn.Before(other.CheckOut) && other.CheckIn.Before(i.CheckOut)
}

func (i Interval) Nights() int {
	return int(i.CheckOut.Sub(i.CheckIn).Hours() / 24)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.CheckIn.Format(DateLayout), i.CheckOut.Format(DateLayout))
}
