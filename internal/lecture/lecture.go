// Package lecture derives lecture identifiers and schedule keys from a
// calendar date and a time range.
package lecture

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"classledger/internal/apperrors"
)

// DateLayout is the canonical date key layout.
const DateLayout = "2006-01-02"

// FirstSlotHour is the hour at which slot index 0 starts.
const FirstSlotHour = 9

// EndOfDay is the latest representable clock, used as an exclusive upper bound.
const EndOfDay Clock = 24 * 60

// Clock is a time of day in minutes since midnight.
type Clock int

// NewClock builds a Clock from hour and minute.
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ClockOf returns the time of day of t, truncated to the minute.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, apperrors.Invalid("time", s, "expected HH:MM")
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, apperrors.Invalid("time", s, "hour is not a number")
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, apperrors.Invalid("time", s, "minute must be two digits")
	}
	if minute < 0 || minute > 59 || hour < 0 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, apperrors.Invalid("time", s, "out of range")
	}
	return NewClock(hour, minute), nil
}

// Hour returns the hour component.
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c Clock) Minute() int { return int(c) % 60 }

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Compact formats the clock as HHMM.
func (c Clock) Compact() string {
	return strings.ReplaceAll(c.String(), ":", "")
}

// Add returns c shifted by d, truncated to the minute.
func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Minute)
}

// On places the clock on date's calendar day in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ValidRange rejects empty and inverted ranges.
func ValidRange(start, end Clock) error {
	if start >= end {
		return fmt.Errorf("%s-%s: %w", start, end, apperrors.ErrInvalidTimeRange)
	}
	return nil
}

// DateKey returns the normalized date key of date.
func DateKey(date time.Time) string {
	return date.Format(DateLayout)
}

// ParseDate parses a date key in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, apperrors.Invalid("date", s, "expected YYYY-MM-DD")
	}
	return d, nil
}

// ID returns the lecture identifier for a date and time range. Equal inputs
// always produce equal identifiers; the ledger relies on this for idempotency.
func ID(date time.Time, start, end Clock) string {
	return DateKey(date) + "_" + start.Compact() + "_" + end.Compact()
}

// ScheduleKey returns "Weekday_slot_duration" for lectures that start at or
// after FirstSlotHour and last at least one whole hour.
func ScheduleKey(date time.Time, start, end Clock) (string, bool) {
	slot := start.Hour() - FirstSlotHour
	duration := int(end-start) / 60
	if slot < 0 || duration <= 0 {
		return "", false
	}
	return fmt.Sprintf("%s_%d_%d", date.Weekday(), slot, duration), true
}
