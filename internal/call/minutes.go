package call

import "time"

// Minute arithmetic for metered billing.
//
// Two rounding conventions coexist on purpose:
// - The sweep bills the minute currently in progress as soon as it begins
//   (CurrentMinute, floor+1).
// - The finalizer owes a started minute in full when the session ends
//   (TotalMinutes, ceil).
// They disagree only at exact minute boundaries, and the minute claim makes
// any disagreement harmless: each minute index settles at most once.

// CurrentMinute returns the 1-based minute index in progress at `now` for a
// session that started at `startedAt`. At 0s elapsed the first minute is
// already billable.
func CurrentMinute(startedAt, now time.Time) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		return 1
	}
	return int(elapsed/time.Minute) + 1
}

// TotalMinutes returns the number of whole-or-partial minutes between
// startedAt and endedAt, rounded up.
func TotalMinutes(startedAt, endedAt time.Time) int {
	elapsed := endedAt.Sub(startedAt)
	if elapsed <= 0 {
		return 0
	}
	m := int(elapsed / time.Minute)
	if elapsed%time.Minute != 0 {
		m++
	}
	return m
}

// ElapsedSeconds returns whole seconds between startedAt and now, never
// negative.
func ElapsedSeconds(startedAt, now time.Time) int {
	d := now.Sub(startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
