// Package period computes billing-cycle boundaries: closing date, due
// date, and the half-open transaction window of a statement period.
// Everything here is pure; callers supply day values in [1,31].
package period

import "time"

// Period is the computed cycle for one reference month.
type Period struct {
	ClosingDate time.Time
	DueDate     time.Time
	Start       time.Time
	End         time.Time
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// clamp builds a UTC date with the day clamped to the month's length.
func clamp(year int, month time.Month, day int) time.Time {
	if max := DaysIn(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Compute returns the cycle for the reference month. The closing date's
// day is min(closingDay, daysInMonth). The due date falls in the month
// after the closing date when dueDay is strictly smaller than the
// closing day-of-month (December rolls over to January); otherwise it
// stays in the closing month. Day values are clamped, never rejected.
// The default period start is the 1st of the reference month; After
// anchors it on a known previous closing instead.
func Compute(closingDay, dueDay, year int, month time.Month) Period {
	closing := clamp(year, month, closingDay)
	due := dueDateFor(closing, dueDay)
	return Period{
		ClosingDate: closing,
		DueDate:     due,
		Start:       time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
		End:         closing,
	}
}

// After returns the cycle for the month following prevClosing, with the
// period start anchored at the day after prevClosing. Used when a prior
// statement exists for the account.
func After(prevClosing time.Time, closingDay, dueDay int) Period {
	year, month, _ := prevClosing.Date()
	p := Compute(closingDay, dueDay, yearOf(year, month+1), monthOf(month+1))
	p.Start = prevClosing.AddDate(0, 0, 1)
	return p
}

// Anchored is Compute with the period start replaced by the day after
// prevClosing. The generator uses it to walk candidate months forward
// while keeping periods contiguous with the last real statement.
func Anchored(prevClosing time.Time, closingDay, dueDay, year int, month time.Month) Period {
	p := Compute(closingDay, dueDay, year, month)
	p.Start = prevClosing.AddDate(0, 0, 1)
	return p
}

// dueDateFor applies the next-month rule with year rollover.
func dueDateFor(closing time.Time, dueDay int) time.Time {
	year, month, _ := closing.Date()
	if dueDay < closing.Day() {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return clamp(year, month, dueDay)
}

// yearOf/monthOf normalize a possibly-overflowed month value.
func yearOf(year int, month time.Month) int {
	if month > time.December {
		return year + 1
	}
	return year
}

func monthOf(month time.Month) time.Month {
	if month > time.December {
		return month - 12
	}
	return month
}
