package domain

import "time"

// Deadline is a wall-clock-relative timer computed before a freeze.
type Deadline struct {
	ID          string
	ScheduledAt time.Time
	Delay       time.Duration
	// Interval is the repeat period; zero for a one-shot deadline.
	Interval time.Duration
	// WallClock marks an expiry tied to real time, such as a token lifetime.
	// The frozen interval counts against it.
	WallClock bool
}

// Due returns the absolute time the deadline was due without any freeze.
func (d Deadline) Due() time.Time {
	return d.ScheduledAt.Add(d.Delay)
}

// Adjusted is a deadline recomputed for the resumed process.
type Adjusted struct {
	Deadline
	// Remaining is the countdown left at resume, never negative.
	Remaining time.Duration
	// FireAt is resumedAt + Remaining.
	FireAt time.Time
	// Overdue is set when the deadline passed before the freeze; it fires
	// once, immediately.
	Overdue bool
	// Skipped counts repeat intervals that elapsed before the freeze and are
	// collapsed into the single catch-up firing.
	Skipped int
}

// AdjustDeadlines excludes the frozen interval from every countdown.
//
// For a deadline scheduled at s with delay d, the remaining countdown is
// d - (frozenAt - s), evaluated at resumedAt. Time spent frozen does not
// count. WallClock deadlines are the exception: they keep d - (resumedAt - s),
// so one set at the freeze with delay D fires max(0, D-F) after a freeze of F.
// A deadline already due fires once at resumedAt; for repeating deadlines the
// missed intervals are collapsed into that one firing.
func AdjustDeadlines(frozenAt, resumedAt time.Time, deadlines []Deadline) []Adjusted {
	out := make([]Adjusted, 0, len(deadlines))
	for _, d := range deadlines {
		until := frozenAt
		if d.WallClock {
			until = resumedAt
		}
		elapsed := until.Sub(d.ScheduledAt)
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := d.Delay - elapsed

		a := Adjusted{Deadline: d}
		if remaining <= 0 {
			a.Overdue = remaining < 0
			if d.Interval > 0 {
				a.Skipped = int((-remaining) / d.Interval)
			}
			remaining = 0
		}
		a.Remaining = remaining
		a.FireAt = resumedAt.Add(remaining)
		out = append(out, a)
	}
	return out
}
