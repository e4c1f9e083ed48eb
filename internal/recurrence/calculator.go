// Package recurrence implements occurrence date arithmetic for recurring
// rules. All functions operate on UTC-midnight dates; callers normalize
// inputs with DayStart before storing or comparing.
//
// Monthly and yearly advancement clamp to the last day of short months
// instead of skipping periods: a rule anchored on Jan 31 occurs on Feb 29
// (leap) or Feb 28, then Mar 31. The anchor's day-of-month is the target
// for every period, so a clamped occurrence recovers the full day as soon
// as the calendar allows.
package recurrence

import (
	"time"

	"finpulse/internal/types"
)

// DayStart normalizes t to UTC midnight.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	ay, am, ad := au.Date()
	by, bm, bd := bu.Date()
	return ay == by && am == bm && ad == bd
}

// daysIn returns the number of days in the given month. time.Date
// normalizes out-of-range months, so month+1 with day 0 lands on the
// last day of month even across a year boundary.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Next returns the occurrence date that follows ref for a rule anchored at
// anchor. The result is always strictly after ref.
//
// Daily and weekly cadences advance by a fixed span. Monthly advances ref
// by one calendar month, clamping to the target month's last day when the
// anchor's day does not exist there. Yearly advances ref's year and restores
// the anchor's month and day, clamping Feb 29 to Feb 28 in common years.
func Next(anchor, ref time.Time, freq types.Frequency) time.Time {
	a := DayStart(anchor)
	r := DayStart(ref)

	switch freq {
	case types.FreqDaily:
		return r.AddDate(0, 0, 1)

	case types.FreqWeekly:
		return r.AddDate(0, 0, 7)

	case types.FreqMonthly:
		year, month := r.Year(), r.Month()
		month++
		day := a.Day()
		if last := daysIn(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	case types.FreqYearly:
		year := r.Year() + 1
		day := a.Day()
		if last := daysIn(year, a.Month()); day > last {
			day = last
		}
		return time.Date(year, a.Month(), day, 0, 0, 0, 0, time.UTC)
	}

	// Unreachable for validated rules; advancing a day keeps the walk finite.
	return r.AddDate(0, 0, 1)
}

// Series returns up to count occurrence dates, beginning with the first
// occurrence on or after from. The anchor itself is the first occurrence
// of every rule.
func Series(anchor, from time.Time, freq types.Frequency, count int) []time.Time {
	if count <= 0 {
		return nil
	}

	candidate := DayStart(anchor)
	start := DayStart(from)
	for candidate.Before(start) {
		candidate = Next(anchor, candidate, freq)
	}

	dates := make([]time.Time, 0, count)
	for len(dates) < count {
		dates = append(dates, candidate)
		candidate = Next(anchor, candidate, freq)
	}
	return dates
}
