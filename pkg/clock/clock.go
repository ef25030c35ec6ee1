// Package clock provides the presentation clock: elapsed milliseconds since
// playback start.
package clock

import (
	"sync"
	"time"
)

// Clock reports elapsed playback time in milliseconds. Successive calls never
// return a smaller value.
type Clock interface {
	Now() int64
}

// Wall is the real presentation clock. It relies on the monotonic reading
// carried by time.Time, so wall-clock adjustments do not move it.
type Wall struct {
	origin time.Time
	last   int64
}

// NewWall returns a clock anchored at the current instant.
func NewWall() *Wall {
	return &Wall{origin: time.Now()}
}

// Start re-anchors the clock origin. Call it right before the first tick so
// setup time is not counted as playback time.
func (w *Wall) Start() {
	w.origin = time.Now()
	w.last = 0
}

// Now returns milliseconds elapsed since the origin.
func (w *Wall) Now() int64 {
	ms := time.Since(w.origin).Milliseconds()
	if ms < w.last {
		return w.last
	}
	w.last = ms
	return ms
}

// Manual is a deterministic clock for tests and offline pacing runs.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a manual clock reading start.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

// Now returns the current reading.
func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by ms. Negative values are ignored.
func (m *Manual) Advance(ms int64) {
	if ms <= 0 {
		return
	}
	m.mu.Lock()
	m.now += ms
	m.mu.Unlock()
}

// Set moves the clock to ms if that is not in the past.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	if ms > m.now {
		m.now = ms
	}
	m.mu.Unlock()
}
