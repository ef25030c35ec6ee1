// Package framepool implements the fixed-capacity arena of display buffers
// shared by the decode-ahead loop and the frame selector.
//
// Every buffer lives in exactly one of two places: the Free stack or the Live
// queue. The Live queue is ordered by non-decreasing timestamp and only grows
// at its tail. Eviction removes a prefix from its head but never the current
// frame, i.e. the last frame whose timestamp is not after the clock.
package framepool

import (
	"errors"
	"fmt"

	"frame-player/pkg/media"
)

var (
	// ErrPoolExhausted means no Free buffer exists and no Live frame can be
	// evicted without discarding the current frame.
	ErrPoolExhausted = errors.New("framepool: no evictable frame, decode raced ahead of display")

	// ErrOutOfOrder is returned when a timestamp would break Live ordering.
	ErrOutOfOrder = errors.New("framepool: timestamp before live tail")

	// ErrUploadPending is returned by Acquire while a previous acquisition has
	// been neither committed nor aborted.
	ErrUploadPending = errors.New("framepool: previous frame still pending")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("framepool: pool closed")

	// ErrNotPending is returned by Commit and Abort for slots that are not the
	// pending tail frame.
	ErrNotPending = errors.New("framepool: slot is not pending")
)

// DefaultCapacity is the number of buffers the player allocates.
const DefaultCapacity = 5

// State is the lifecycle state of a frame slot.
type State int

const (
	StateFree    State = iota // buffer reusable, content meaningless
	StatePending              // in the Live queue, upload in progress
	StateLive                 // in the Live queue, displayable
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StatePending:
		return "pending"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Frame is one slot of the arena.
type Frame struct {
	Slot      int
	Handle    media.BufferHandle
	Timestamp int64
	State     State
}

// Pool owns capacity buffers for its whole lifetime.
type Pool struct {
	alloc media.BufferAllocator
	slots []Frame

	free []int // stack of slot indices
	live []int // queue of slot indices, head first

	evictions uint64
	closed    bool
}

// New allocates capacity buffers. If any allocation fails the buffers created
// so far are destroyed and the error is returned.
func New(capacity int, alloc media.BufferAllocator) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("framepool: invalid capacity %d", capacity)
	}

	p := &Pool{
		alloc: alloc,
		slots: make([]Frame, 0, capacity),
		free:  make([]int, 0, capacity),
		live:  make([]int, 0, capacity),
	}

	for i := 0; i < capacity; i++ {
		h, err := alloc.CreateBuffer()
		if err != nil {
			for _, f := range p.slots {
				alloc.DestroyBuffer(f.Handle)
			}
			return nil, fmt.Errorf("framepool: create buffer %d/%d: %w", i+1, capacity, err)
		}
		p.slots = append(p.slots, Frame{Slot: i, Handle: h, State: StateFree})
		p.free = append(p.free, i)
	}

	return p, nil
}

// Capacity returns the fixed number of buffers.
func (p *Pool) Capacity() int { return len(p.slots) }

// FreeLen returns the size of the Free set.
func (p *Pool) FreeLen() int { return len(p.free) }

// LiveLen returns the size of the Live queue, pending frame included.
func (p *Pool) LiveLen() int { return len(p.live) }

// Evictions returns how many frames have been recycled from the Live queue.
func (p *Pool) Evictions() uint64 { return p.evictions }

// Tail returns the last frame of the Live queue.
func (p *Pool) Tail() (Frame, bool) {
	if len(p.live) == 0 {
		return Frame{}, false
	}
	return p.slots[p.live[len(p.live)-1]], true
}

// Acquire takes a buffer for a frame presented at timestamp and appends it to
// the Live tail in the pending state. When Free is empty it evicts the Live
// prefix that is already in the past, keeping the current frame.
func (p *Pool) Acquire(now, timestamp int64) (Frame, error) {
	if p.closed {
		return Frame{}, ErrClosed
	}
	if tail, ok := p.Tail(); ok {
		if tail.State == StatePending {
			return Frame{}, ErrUploadPending
		}
		if timestamp < tail.Timestamp {
			return Frame{}, fmt.Errorf("%w: %d < %d", ErrOutOfOrder, timestamp, tail.Timestamp)
		}
	}

	if len(p.free) == 0 && p.Evict(now) == 0 {
		return Frame{}, ErrPoolExhausted
	}

	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	f := &p.slots[slot]
	f.Timestamp = timestamp
	f.State = StatePending
	p.live = append(p.live, slot)

	return *f, nil
}

// Commit marks the pending tail frame displayable.
func (p *Pool) Commit(slot int) error {
	if err := p.checkPendingTail(slot); err != nil {
		return err
	}
	p.slots[slot].State = StateLive
	return nil
}

// Abort returns the pending tail frame to the Free set.
func (p *Pool) Abort(slot int) error {
	if err := p.checkPendingTail(slot); err != nil {
		return err
	}
	p.live = p.live[:len(p.live)-1]
	p.release(slot)
	return nil
}

func (p *Pool) checkPendingTail(slot int) error {
	if p.closed {
		return ErrClosed
	}
	n := len(p.live)
	if n == 0 || p.live[n-1] != slot || p.slots[slot].State != StatePending {
		return fmt.Errorf("%w: slot %d", ErrNotPending, slot)
	}
	return nil
}

// currentIndex returns the Live queue index of the last displayable frame
// with Timestamp <= now, or -1.
func (p *Pool) currentIndex(now int64) int {
	idx := -1
	for i, slot := range p.live {
		f := p.slots[slot]
		if f.State != StateLive || f.Timestamp > now {
			break
		}
		idx = i
	}
	return idx
}

// Current returns the frame that should be on screen at now.
func (p *Pool) Current(now int64) (Frame, bool) {
	idx := p.currentIndex(now)
	if idx < 0 {
		return Frame{}, false
	}
	return p.slots[p.live[idx]], true
}

// Evict moves every Live frame before the current one to Free and returns how
// many were moved. The current frame and everything after it stay Live.
func (p *Pool) Evict(now int64) int {
	cur := p.currentIndex(now)
	if cur <= 0 {
		return 0
	}

	for _, slot := range p.live[:cur] {
		p.release(slot)
	}
	n := copy(p.live, p.live[cur:])
	p.live = p.live[:n]
	p.evictions += uint64(cur)

	return cur
}

func (p *Pool) release(slot int) {
	f := &p.slots[slot]
	f.State = StateFree
	f.Timestamp = 0
	p.free = append(p.free, slot)
}

// Snapshot is a copy of the pool's bookkeeping.
type Snapshot struct {
	Capacity int
	Free     int
	Live     []Frame
}

// Timestamps returns the Live timestamps head first.
func (s Snapshot) Timestamps() []int64 {
	ts := make([]int64, len(s.Live))
	for i, f := range s.Live {
		ts[i] = f.Timestamp
	}
	return ts
}

// Snapshot copies the current pool state.
func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		Capacity: len(p.slots),
		Free:     len(p.free),
		Live:     make([]Frame, len(p.live)),
	}
	for i, slot := range p.live {
		s.Live[i] = p.slots[slot]
	}
	return s
}

// Close destroys every buffer exactly once. It is safe to call twice.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true

	for _, f := range p.slots {
		p.alloc.DestroyBuffer(f.Handle)
	}
	p.free = p.free[:0]
	p.live = p.live[:0]
}
