package tariff

import (
	"errors"
	"time"
)

// ErrInvalidBillingDay is returned for billing days outside 1..31.
var ErrInvalidBillingDay = errors.New("tariff: billing day must be between 1 and 31")

// Cycle is a half-open billing interval [Start, End).
type Cycle struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the cycle.
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Days returns the number of calendar days covered by the cycle.
func (c Cycle) Days() int {
	return int(c.End.Sub(c.Start).Hours() / 24)
}

// ComputeCycle derives the billing cycle containing the reference date.
// The cycle starts on the owner's billing day, clamped to the length of
// the target month; when the reference day precedes the billing day the
// cycle rolls back to the previous month.
func ComputeCycle(reference time.Time, billingDay int) (Cycle, error) {
	if billingDay < 1 || billingDay > 31 {
		return Cycle{}, ErrInvalidBillingDay
	}

	ref := reference.UTC()
	year, month := ref.Year(), ref.Month()
	// The rollover compares the raw billing day: on Feb 28 with billing
	// day 31 the cycle is still the one that started on Jan 31. Clamping
	// applies only when placing the start date in its month.
	if ref.Day() < billingDay {
		year, month = previousMonth(year, month)
	}

	start := time.Date(year, month, clampDay(year, month, billingDay), 0, 0, 0, 0, time.UTC)
	nextYear, nextMonth := nextMonth(year, month)
	end := time.Date(nextYear, nextMonth, clampDay(nextYear, nextMonth, billingDay), 0, 0, 0, 0, time.UTC)
	return Cycle{Start: start, End: end}, nil
}

// CycleForMonth derives the billing cycle anchored in a specific month,
// used when generating historical reports.
func CycleForMonth(year int, month time.Month, billingDay int) (Cycle, error) {
	if billingDay < 1 || billingDay > 31 {
		return Cycle{}, ErrInvalidBillingDay
	}
	start := time.Date(year, month, clampDay(year, month, billingDay), 0, 0, 0, 0, time.UTC)
	nextYear, next := nextMonth(year, month)
	end := time.Date(nextYear, next, clampDay(nextYear, next, billingDay), 0, 0, 0, 0, time.UTC)
	return Cycle{Start: start, End: end}, nil
}

// clampDay caps day to the length of the month, so billing day 31 lands
// on Feb 28/29 rather than overflowing into March.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func previousMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
