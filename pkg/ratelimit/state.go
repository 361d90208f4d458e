// Package ratelimit implements the sliding-window admission gate shared by
// all catalog fetchers of an ingestion run.
//
// The limiter keeps a time-ordered queue of admitted call timestamps. A call
// is admitted when fewer than MaxCalls timestamps fall inside the trailing
// window; otherwise the caller sleeps until the oldest timestamp leaves the
// window and re-evaluates from scratch.
package ratelimit

import (
	"time"
)

// minBackoff is the pause used when the computed wait is not positive
// (clock skew or a racing eviction), so callers never busy-spin.
const minBackoff = 50 * time.Millisecond

// State is a snapshot of the limiter window taken inside the critical section.
type State struct {
	// InWindow is the number of admissions inside the trailing window.
	InWindow int

	// MaxCalls is the configured admission budget per window.
	MaxCalls int

	// Window is the length of the trailing window.
	Window time.Duration

	// Oldest is the timestamp of the oldest admission still in the window.
	// Zero when the window is empty.
	Oldest time.Time

	// Now is the instant the snapshot was taken.
	Now time.Time
}

// Saturated reports whether the window has no free admission slot.
func (s State) Saturated() bool {
	return s.InWindow >= s.MaxCalls
}

// TimeUntilSlot returns how long until the oldest admission leaves the window.
// Returns 0 if a slot is free now.
func (s State) TimeUntilSlot() time.Duration {
	if !s.Saturated() {
		return 0
	}
	return s.Oldest.Add(s.Window).Sub(s.Now)
}

// Backoff returns the duration a saturated caller should sleep before
// retrying. It never returns a non-positive duration.
func (s State) Backoff() time.Duration {
	wait := s.TimeUntilSlot()
	if wait <= 0 {
		return minBackoff
	}
	return wait
}
