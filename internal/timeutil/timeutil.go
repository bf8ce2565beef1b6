package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the yyyy-MM-dd key used for archive and progress documents.
const DateLayout = "2006-01-02"

const clockLayout = "3:04 PM"

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return int(t)
}

// String formats t the way activities store it, e.g. "09:00 AM".
func (t TimeOfDay) String() string {
	ref := time.Date(2000, 1, 1, int(t)/60, int(t)%60, 0, 0, time.UTC)
	return ref.Format("03:04 PM")
}

// ParseError reports a time-of-day string that is not "hh:mm AM/PM".
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time of day %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseTimeOfDay parses a 12-hour clock string such as "09:00 AM" or "7:30 pm".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	value := strings.ToUpper(strings.TrimSpace(s))
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		return 0, &ParseError{Value: s, Err: err}
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// Duration returns the hours between start and end. A negative span
// (misordered or overnight entries) is clamped to zero.
func Duration(start, end string) (float64, error) {
	from, err := ParseTimeOfDay(start)
	if err != nil {
		return 0, err
	}
	to, err := ParseTimeOfDay(end)
	if err != nil {
		return 0, err
	}
	minutes := to.Minutes() - from.Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return float64(minutes) / 60, nil
}

// DateKey formats t as yyyy-MM-dd in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDateKey parses a yyyy-MM-dd key in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, key, loc)
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekdayName returns the English weekday name ("Monday".."Sunday").
func WeekdayName(t time.Time) string {
	return t.Weekday().String()
}

// NormalizeWeekday maps a case-insensitive weekday name to its canonical
// form. It reports false for anything that is not a weekday.
func NormalizeWeekday(name string) (string, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(strings.TrimSpace(name), d.String()) {
			return d.String(), true
		}
	}
	return "", false
}
