package pacing

import (
	"errors"
	"fmt"

	"frame-player/pkg/framepool"
)

// ErrNoCurrentFrame means no displayable frame has a timestamp at or before
// the clock.
var ErrNoCurrentFrame = errors.New("pacing: no frame due for display")

// Select returns the last Live frame due at now. It does not modify the pool.
func Select(pool *framepool.Pool, now int64) (framepool.Frame, error) {
	f, ok := pool.Current(now)
	if !ok {
		return framepool.Frame{}, fmt.Errorf("%w at %dms (live=%d)", ErrNoCurrentFrame, now, pool.LiveLen())
	}
	return f, nil
}
