// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxFPS caps redraws while streaming.
const DefaultMaxFPS = 30

// Throttle decides whether a redraw may happen now. Deltas can arrive far
// faster than a terminal can paint; skipped frames are not lost because the
// next allowed frame renders the latest state, and Flush always allows the
// final frame.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	dirty   bool
}

// NewThrottle creates a throttle allowing maxFPS frames per second.
func NewThrottle(maxFPS int) *Throttle {
	if maxFPS <= 0 || maxFPS > 120 {
		maxFPS = DefaultMaxFPS
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(maxFPS)), 1),
	}
}

// Allow records a change and reports whether a frame may be drawn now.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limiter.Allow() {
		t.dirty = false
		return true
	}
	t.dirty = true
	return false
}

// Flush reports whether a change was skipped since the last drawn frame,
// and clears it. Call it when a stream ends so the final state is drawn.
func (t *Throttle) Flush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dirty := t.dirty
	t.dirty = false
	return dirty
}

// Pending reports whether a skipped change is waiting to be drawn.
func (t *Throttle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// Interval returns the minimum spacing between frames.
func (t *Throttle) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(t.limiter.Limit()))
}
