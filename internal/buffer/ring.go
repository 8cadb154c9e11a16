package buffer

import (
	"math"
	"sync"
	"time"
)

// Frame is one timestamped image payload received from a source.
// The slice is owned by the buffer slot that holds it until overwritten.
type Frame struct {
	Payload    []byte
	CapturedAt time.Time
}

// Ring is a fixed-capacity rolling store of frames for a single source.
// Once full, the oldest frame is overwritten first. Push is O(1) and
// never blocks on anything but the internal mutex.
type Ring struct {
	frames []Frame
	next   int // write cursor
	count  int
	mu     sync.Mutex
}

// CapacityFor computes the slot count needed to hold window worth of
// frames at the given rate.
func CapacityFor(window time.Duration, fps int) int {
	if fps <= 0 {
		fps = 1
	}
	c := int(math.Ceil(window.Seconds() * float64(fps)))
	if c < 1 {
		c = 1
	}
	return c
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		frames: make([]Frame, capacity),
	}
}

// Capacity returns the fixed slot count.
func (r *Ring) Capacity() int {
	return len(r.frames)
}

// Push stores a frame, overwriting the oldest one once at capacity.
func (r *Ring) Push(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames[r.next] = frame
	r.next = (r.next + 1) % len(r.frames)
	if r.count < len(r.frames) {
		r.count++
	}
}

// Snapshot returns, oldest first, all stored frames captured within the
// trailing window. A cold or empty buffer yields whatever is available,
// possibly nothing; it is never an error.
func (r *Ring) Snapshot(window time.Duration) []Frame {
	cutoff := time.Now().Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frame, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.frames)
	}
	for i := 0; i < r.count; i++ {
		f := r.frames[(start+i)%len(r.frames)]
		if f.CapturedAt.Before(cutoff) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Len returns the number of frames currently stored.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// NewestAt returns the capture time of the most recent frame, or the
// zero time if the buffer is empty. Used by the idle reaper.
func (r *Ring) NewestAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return time.Time{}
	}
	last := r.next - 1
	if last < 0 {
		last += len(r.frames)
	}
	return r.frames[last].CapturedAt
}

// OldestAt returns the capture time of the oldest stored frame, or the
// zero time if the buffer is empty.
func (r *Ring) OldestAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return time.Time{}
	}
	start := r.next - r.count
	if start < 0 {
		start += len(r.frames)
	}
	return r.frames[start].CapturedAt
}
