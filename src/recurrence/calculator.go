// Package recurrence computes the next occurrence date of recurring
// transactions. Pure calendar arithmetic, no clock access.
package recurrence

import (
	"fmt"
	"time"

	"github.com/username/finflow/src/models"
)

// Next returns the occurrence following t for the given interval.
//
// DAILY adds one calendar day and WEEKLY seven. MONTHLY adds one calendar
// month preserving the day-of-month, clamping to the target month's last day
// when it is shorter (Jan 31 -> Feb 28, or Feb 29 in leap years). YEARLY adds
// one calendar year with the same clamp (Feb 29 -> Feb 28 in non-leap years).
// The input is never mutated and the result strictly exceeds t.
func Next(t time.Time, interval models.RecurringInterval) (time.Time, error) {
	switch interval {
	case models.IntervalDaily:
		return t.AddDate(0, 0, 1), nil
	case models.IntervalWeekly:
		return t.AddDate(0, 0, 7), nil
	case models.IntervalMonthly:
		return addMonthsClamped(t, 1), nil
	case models.IntervalYearly:
		return addYearsClamped(t, 1), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurring interval %q", interval)
	}
}

// IsValidInterval reports whether s names a supported recurring interval.
func IsValidInterval(s string) bool {
	switch models.RecurringInterval(s) {
	case models.IntervalDaily, models.IntervalWeekly, models.IntervalMonthly, models.IntervalYearly:
		return true
	}
	return false
}

// addMonthsClamped adds months without time.AddDate's day normalization:
// a day-of-month past the target month's end clamps to its last day.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func addYearsClamped(t time.Time, years int) time.Time {
	year, month, day := t.Date()
	if last := daysIn(year+years, month); day > last {
		day = last
	}
	return time.Date(year+years, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
