// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package helper

import (
	"sync"
	"time"
)

// LogGate rate limits noisy log lines on a per-key basis. Callers ask
// Allow before emitting an elevated log level; a denied key should be
// logged at debug instead.
type LogGate struct {
	interval time.Duration

	lock sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewLogGate creates a gate that allows each key at most once per
// interval.
func NewLogGate(interval time.Duration) *LogGate {
	return &LogGate{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow returns true if the key has not fired within the gate's
// interval, and marks the key as fired.
func (g *LogGate) Allow(key string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.interval {
		return false
	}
	g.last[key] = now
	return true
}
