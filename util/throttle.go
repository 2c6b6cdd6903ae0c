// Package util holds small helpers shared by the commands.
package util

import "time"

// SkipThrottler allows an event at most once per period and counts the events it skipped in between.
type SkipThrottler struct {
	d       time.Duration
	last    time.Time
	pending int
	skipped int

	now func() time.Time
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC), now: time.Now}
	return tt
}

// Ok reports whether the period has elapsed since the last allowed event.
func (tt *SkipThrottler) Ok() bool {
	now := tt.now()
	if now.Before(tt.last.Add(tt.d)) {
		tt.pending++
		tt.skipped = tt.pending
		return false
	}

	tt.last = now
	tt.skipped = tt.pending
	tt.pending = 0
	return true
}

// Skipped returns the number of events skipped between the previously allowed event and the latest one.
func (tt *SkipThrottler) Skipped() int { return tt.skipped }
