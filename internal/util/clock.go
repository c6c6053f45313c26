// Package util provides shared time and math helpers for the trading core.
//
// All Eastern-Time calendar logic in the repository funnels through this
// package so that no component ever consults the ambient locale directly.
package util

import (
	"time"
)

// Clock abstracts wall-clock access so cycle logic can be tested against
// frozen instants.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewClock returns the production wall clock.
func NewClock() Clock { return realClock{} }

// FixedClock is a Clock pinned to a single instant, for tests.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (f FixedClock) Now() time.Time { return f.T }

var etLocation *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Minimal containers may lack tzdata; a DST-agnostic fallback keeps
		// the bot limping rather than dead.
		loc = time.FixedZone("ET", -5*60*60)
	}
	etLocation = loc
}

// ETLocation returns the America/New_York location (or an EST fixed zone if
// tzdata is unavailable).
func ETLocation() *time.Location { return etLocation }

// InET converts t to Eastern Time.
func InET(t time.Time) time.Time { return t.In(etLocation) }

// ETDay formats t as an ET calendar day, "2006-01-02".
func ETDay(t time.Time) string { return t.In(etLocation).Format("2006-01-02") }

// IsWeekday reports whether t falls on Monday through Friday in ET.
func IsWeekday(t time.Time) bool {
	wd := t.In(etLocation).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketHours reports whether t is within regular trading hours,
// 09:30-16:00 ET inclusive, on a weekday.
func IsMarketHours(t time.Time) bool {
	if !IsWeekday(t) {
		return false
	}
	et := t.In(etLocation)
	mins := et.Hour()*60 + et.Minute()
	return mins >= 9*60+30 && mins <= 16*60
}

// IsAfterClose reports whether t is at or past the 16:15 ET post-close
// boundary used for daily rehydration.
func IsAfterClose(t time.Time) bool {
	et := t.In(etLocation)
	mins := et.Hour()*60 + et.Minute()
	return mins >= 16*60+15
}

// IsAfterOpenPrep reports whether t is at or past 09:00 ET, the earliest
// point at which morning daily tasks (suggested finds) may run.
func IsAfterOpenPrep(t time.Time) bool {
	et := t.In(etLocation)
	return et.Hour() >= 9
}

// WithinETWindow reports whether t's ET wall clock falls within the
// inclusive [start, end] window given as "HH:MM" strings. The returned
// position is -1 before the window, 0 inside it, and +1 after it. Malformed
// bounds are treated as an unbounded side.
func WithinETWindow(t time.Time, start, end string) int {
	et := t.In(etLocation)
	mins := et.Hour()*60 + et.Minute()
	if s, ok := parseHHMM(start); ok && mins < s {
		return -1
	}
	if e, ok := parseHHMM(end); ok && mins > e {
		return 1
	}
	return 0
}

func parseHHMM(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
