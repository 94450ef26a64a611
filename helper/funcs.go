// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package helper provides small utility functions shared across the
// bridge: staggered timing, bounded exponential backoff, and safe
// timer construction.
package helper

import (
	"math"
	"math/rand"
	"time"
)

// RandomStagger returns an interval between 0 and the duration.
func RandomStagger(intv time.Duration) time.Duration {
	if intv == 0 {
		return 0
	}
	return time.Duration(uint64(rand.Int63()) % uint64(intv))
}

// Backoff is used to compute a bounded exponential backoff for the
// given attempt number. The attempt counter is expected to start at
// zero, giving delays of base, 2*base, 4*base, ... capped at limit.
func Backoff(base, limit time.Duration, attempt uint64) time.Duration {
	const maxShift = 62
	if attempt > maxShift {
		attempt = maxShift
	}
	backoff := base << attempt
	if backoff < base || backoff > limit {
		backoff = limit
	}
	return backoff
}

// StopFunc is used to stop a time.Timer created with NewSafeTimer.
type StopFunc func()

// NewSafeTimer creates a time.Timer along with a function to stop it.
//
// Using the returned StopFunc in a defer statement avoids the gotchas
// associated with stopping and draining timers that may or may not
// have fired.
func NewSafeTimer(duration time.Duration) (*time.Timer, StopFunc) {
	if duration <= 0 {
		// zero duration timers misbehave in select loops; use the
		// smallest duration instead
		duration = 1
	}

	t := time.NewTimer(duration)
	cancel := func() {
		t.Stop()
	}

	return t, cancel
}

// NewStoppedTimer creates a time.Timer in a stopped state. This is
// useful when the duration of the timer is not yet known.
func NewStoppedTimer() (*time.Timer, StopFunc) {
	t, f := NewSafeTimer(math.MaxInt64)
	t.Stop()
	return t, f
}

// Min360 normalizes an angle in degrees into [0, 360).
func Min360(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	return m
}
