package timeutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// localLayouts are the wall-clock formats a datetime-local input can submit
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// AreDatesEqualToMinute reports whether a and b fall in the same minute
func AreDatesEqualToMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// IsDateInFuture reports whether t is strictly after now, ignoring seconds
func IsDateInFuture(t, now time.Time) bool {
	return t.Truncate(time.Minute).After(now.Truncate(time.Minute))
}

// IsWithinHours reports whether t is no later than start plus window
func IsWithinHours(t, start time.Time, window time.Duration) bool {
	return !t.After(start.Add(window))
}

// FromLocal converts a client wall-clock time and its timezone offset into a UTC instant.
// offsetMinutes follows the browser convention: minutes to add to local time to reach UTC
// (UTC+2 is -120).
func FromLocal(local string, offsetMinutes int) (time.Time, error) {
	local = strings.TrimSpace(local)
	for _, layout := range localLayouts {
		t, err := time.ParseInLocation(layout, local, time.UTC)
		if err == nil {
			return t.Add(time.Duration(offsetMinutes) * time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid local time: %q", local)
}

// StartOfDay returns midnight UTC of t's day
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns midnight UTC of the Monday starting t's week
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns midnight UTC of the first day of t's month
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// BillingPeriodStart returns the start of the monthly billing period containing now.
// Periods recur on the anchor's day of month, clamped to shorter months.
func BillingPeriodStart(anchor, now time.Time) time.Time {
	anchor = StartOfDay(anchor)
	now = now.UTC()
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	start := addMonthsClamped(anchor, months)
	for start.After(now) {
		months--
		start = addMonthsClamped(anchor, months)
	}
	return start
}

func addMonthsClamped(anchor time.Time, months int) time.Time {
	first := time.Date(anchor.Year(), anchor.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := anchor.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// Later returns the later of a and b
func Later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// CeilCents rounds a consumption or charge value up to two decimals.
// Billing never rounds down.
func CeilCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundCeil(2)
}
