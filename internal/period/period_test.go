package period_test

import (
	"testing"
	"time"

	"github.com/mfbaptista/billcycle/internal/period"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute_ClosingDayClamped(t *testing.T) {
	// For every valid day pair the closing day must be
	// min(closingDay, daysInMonth).
	months := []struct {
		year  int
		month time.Month
	}{
		{2026, time.January},
		{2026, time.February}, // 28 days
		{2024, time.February}, // leap, 29 days
		{2026, time.April},    // 30 days
		{2026, time.December},
	}

	for _, m := range months {
		days := period.DaysIn(m.year, m.month)
		for closingDay := 1; closingDay <= 31; closingDay++ {
			for dueDay := 1; dueDay <= 31; dueDay += 6 {
				p := period.Compute(closingDay, dueDay, m.year, m.month)
				want := closingDay
				if want > days {
					want = days
				}
				if p.ClosingDate.Day() != want {
					t.Fatalf("%d-%02d closingDay=%d: got day %d, want %d",
						m.year, m.month, closingDay, p.ClosingDate.Day(), want)
				}
				if !p.End.Equal(p.ClosingDate) {
					t.Fatalf("period end must equal closing date")
				}
			}
		}
	}
}

func TestCompute_DueDateRollsToNextMonth(t *testing.T) {
	// dueDay strictly below the closing day-of-month pushes the due date
	// into the following month.
	p := period.Compute(15, 5, 2026, time.January)

	if !p.ClosingDate.Equal(date(2026, time.January, 15)) {
		t.Errorf("closing date = %v, want 2026-01-15", p.ClosingDate)
	}
	if !p.DueDate.Equal(date(2026, time.February, 5)) {
		t.Errorf("due date = %v, want 2026-02-05", p.DueDate)
	}
}

func TestCompute_DueDateYearRollover(t *testing.T) {
	p := period.Compute(20, 5, 2026, time.December)

	if !p.DueDate.Equal(date(2027, time.January, 5)) {
		t.Errorf("due date = %v, want 2027-01-05", p.DueDate)
	}
}

func TestCompute_FebruaryClamping(t *testing.T) {
	// closingDay=31, dueDay=31 in a 28-day February: closing clamps to
	// the 28th, and since dueDay is not strictly below the closing day
	// the due date stays in February, also clamped.
	p := period.Compute(31, 31, 2026, time.February)

	if !p.ClosingDate.Equal(date(2026, time.February, 28)) {
		t.Errorf("closing date = %v, want 2026-02-28", p.ClosingDate)
	}
	if !p.DueDate.Equal(date(2026, time.February, 28)) {
		t.Errorf("due date = %v, want 2026-02-28", p.DueDate)
	}
}

func TestCompute_DueDaySameAsClosingStaysInMonth(t *testing.T) {
	p := period.Compute(10, 10, 2026, time.March)

	if p.DueDate.Month() != time.March || p.DueDate.Day() != 10 {
		t.Errorf("due date = %v, want 2026-03-10", p.DueDate)
	}
}

func TestCompute_DefaultStartIsFirstOfMonth(t *testing.T) {
	p := period.Compute(15, 20, 2026, time.May)

	if !p.Start.Equal(date(2026, time.May, 1)) {
		t.Errorf("start = %v, want 2026-05-01", p.Start)
	}
}

func TestAfter_AnchorsStartOnPreviousClosing(t *testing.T) {
	prev := date(2026, time.January, 15)
	p := period.After(prev, 15, 5)

	if !p.Start.Equal(date(2026, time.January, 16)) {
		t.Errorf("start = %v, want 2026-01-16", p.Start)
	}
	if !p.ClosingDate.Equal(date(2026, time.February, 15)) {
		t.Errorf("closing = %v, want 2026-02-15", p.ClosingDate)
	}
}

func TestAfter_DecemberRollsIntoJanuary(t *testing.T) {
	prev := date(2026, time.December, 20)
	p := period.After(prev, 20, 25)

	if p.ClosingDate.Year() != 2027 || p.ClosingDate.Month() != time.January {
		t.Errorf("closing = %v, want January 2027", p.ClosingDate)
	}
}

func TestAnchored_KeepsCandidateMonthIndependentOfAnchor(t *testing.T) {
	// A skipped (empty) month must not stall the candidate walk: the
	// anchor stays at the old closing while the candidate month advances.
	prev := date(2026, time.January, 10)
	p := period.Anchored(prev, 10, 15, 2026, time.March)

	if !p.Start.Equal(date(2026, time.January, 11)) {
		t.Errorf("start = %v, want 2026-01-11", p.Start)
	}
	if !p.ClosingDate.Equal(date(2026, time.March, 10)) {
		t.Errorf("closing = %v, want 2026-03-10", p.ClosingDate)
	}
}
